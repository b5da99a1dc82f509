// Package keysel implements KeySelector: a relative key reference resolved
// against an ordered key sequence, and the four canonical factory patterns
// used to address range-scan boundaries.
//
// The factory encodings below are fixed per the spec's design notes: two
// candidate (orEqual, offset) encodings exist in the lineage this module
// was ported from, and only one of them satisfies the resolution algorithm
// in [Resolve] on a sorted-array backend. That is the one implemented here;
// do not "simplify" these constants without re-deriving the resolution
// proof first.
package keysel

import "sort"

// Selector is the triple {key, orEqual, offset}. The zero Selector is
// FirstGreaterOrEqual(nil).
type Selector struct {
	Key     []byte
	OrEqual bool
	Offset  int
}

// FirstGreaterOrEqual returns the selector for the first key >= k.
func FirstGreaterOrEqual(k []byte) Selector {
	return Selector{Key: k, OrEqual: false, Offset: 1}
}

// FirstGreaterThan returns the selector for the first key > k.
func FirstGreaterThan(k []byte) Selector {
	return Selector{Key: k, OrEqual: true, Offset: 1}
}

// LastLessOrEqual returns the selector for the last key <= k.
func LastLessOrEqual(k []byte) Selector {
	return Selector{Key: k, OrEqual: true, Offset: 0}
}

// LastLessThan returns the selector for the last key < k.
func LastLessThan(k []byte) Selector {
	return Selector{Key: k, OrEqual: false, Offset: 0}
}

// Add returns a copy of s with its offset shifted by delta. This is how
// callers express "the key after the one this selector names".
func (s Selector) Add(delta int) Selector {
	s.Offset += delta

	return s
}

// Resolve resolves s against the sorted, ascending sequence keys, returning
// an index in [0, len(keys)] (len(keys) meaning "past the end").
//
// Algorithm (spec.md §4.4):
//  1. base = upperBound(keys, s.Key) - 1 if s.OrEqual, else lowerBound(keys, s.Key) - 1.
//     -1 means "before all keys".
//  2. resolved = base + s.Offset.
//  3. clamp to [0, len(keys)].
func Resolve(keys [][]byte, s Selector) int {
	var base int

	if s.OrEqual {
		base = upperBound(keys, s.Key) - 1
	} else {
		base = lowerBound(keys, s.Key) - 1
	}

	resolved := base + s.Offset

	if resolved < 0 {
		return 0
	}

	if resolved > len(keys) {
		return len(keys)
	}

	return resolved
}

// lowerBound returns the index of the first key >= target.
func lowerBound(keys [][]byte, target []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return compareBytes(keys[i], target) >= 0
	})
}

// upperBound returns the index of the first key > target.
func upperBound(keys [][]byte, target []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return compareBytes(keys[i], target) > 0
	})
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}

			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// ResolveRange resolves a forward range [beginSel, endSel) against keys,
// returning start/end indices such that keys[start:end] is the scan result
// for a forward iteration. The scan is empty iff start >= end.
func ResolveRange(keys [][]byte, beginSel, endSel Selector) (start, end int) {
	start = Resolve(keys, beginSel)
	end = Resolve(keys, endSel)

	if start > end {
		start = end
	}

	return start, end
}

// Canonical names how a backend that cannot enumerate keys
// (e.g. a B-tree exposing only boundary comparisons) should treat s when it
// exactly matches one of the four canonical factories. Non-canonical
// offsets are not representable this way and degrade to Contains-style
// "key >= k" semantics, matching FirstGreaterOrEqual (documented concession,
// spec.md §4.4/§9).
type Canonical int

const (
	// CanonicalFirstGreaterOrEqual: key >= k.
	CanonicalFirstGreaterOrEqual Canonical = iota
	// CanonicalFirstGreaterThan: key > k.
	CanonicalFirstGreaterThan
	// CanonicalLastLessOrEqual: key <= k.
	CanonicalLastLessOrEqual
	// CanonicalLastLessThan: key < k.
	CanonicalLastLessThan
)

// Classify maps s to its canonical boundary predicate. ok is false if s is
// not exactly one of the four canonical factories (a non-canonical offset),
// in which case callers on boundary-only backends should treat it as
// CanonicalFirstGreaterOrEqual.
func Classify(s Selector) (c Canonical, ok bool) {
	switch {
	case !s.OrEqual && s.Offset == 1:
		return CanonicalFirstGreaterOrEqual, true
	case s.OrEqual && s.Offset == 1:
		return CanonicalFirstGreaterThan, true
	case s.OrEqual && s.Offset == 0:
		return CanonicalLastLessOrEqual, true
	case !s.OrEqual && s.Offset == 0:
		return CanonicalLastLessThan, true
	default:
		return CanonicalFirstGreaterOrEqual, false
	}
}
