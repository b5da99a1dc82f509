// Package kv is the Transaction Core: write-buffered transactions offering
// snapshot reads, read-your-writes, range scans addressed by KeySelector,
// and a deterministic commit/cancel lifecycle, over a pluggable backend.
//
// This package defines the backend-independent contract (Engine,
// Transaction, the write buffer, the retry loop) and the shared merge
// algorithm used by "materialize-and-merge" backends. Concrete backends
// live in sibling packages (memkv, sqlitekv) and construct a Transaction
// from their own Snapshot/Committer implementations.
package kv

import (
	"sort"

	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/keysel"
)

// OpKind identifies a buffered write's shape.
type OpKind uint8

const (
	OpSet OpKind = iota
	OpClear
	OpClearRange
)

// WriteOp is one buffered write: Set(Key,Value), Clear(Key), or
// ClearRange(Key, End) (Key is the range's begin in the ClearRange case).
type WriteOp struct {
	Kind  OpKind
	Key   []byte
	Value []byte
	End   []byte
}

// Entry is one resolved key/value pair, as returned by range reads.
type Entry struct {
	Key   []byte
	Value []byte
}

// WriteBuffer is the ordered sequence of buffered operations for a single
// transaction. It is not safe for concurrent use; a Transaction is single
// threaded from the caller's perspective (spec.md §5).
type WriteBuffer struct {
	ops []WriteOp
}

// Set appends a Set op.
func (b *WriteBuffer) Set(key, value []byte) {
	b.ops = append(b.ops, WriteOp{Kind: OpSet, Key: cloneBytes(key), Value: cloneBytes(value)})
}

// Clear appends a Clear op.
func (b *WriteBuffer) Clear(key []byte) {
	b.ops = append(b.ops, WriteOp{Kind: OpClear, Key: cloneBytes(key)})
}

// ClearRange appends a ClearRange op covering [begin, end).
func (b *WriteBuffer) ClearRange(begin, end []byte) {
	b.ops = append(b.ops, WriteOp{Kind: OpClearRange, Key: cloneBytes(begin), End: cloneBytes(end)})
}

// Ops returns the buffered ops in insertion order. The caller must not
// mutate the result.
func (b *WriteBuffer) Ops() []WriteOp { return b.ops }

// Len returns the number of buffered ops.
func (b *WriteBuffer) Len() int { return len(b.ops) }

// Reset discards all buffered ops, leaving b empty. Used after a flush (the
// ops have been persisted to the backend) or after cancel.
func (b *WriteBuffer) Reset() { b.ops = nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// Lookup scans ops in reverse insertion order for the last operation whose
// effect covers key (spec.md §4.5 getValue). hasEffect is false if no
// buffered op touches key, meaning the caller must fall back to the
// snapshot/backing store. When hasEffect is true, cleared reports whether
// the effect is a deletion (value is meaningless in that case).
func Lookup(ops []WriteOp, key []byte) (value []byte, hasEffect bool, cleared bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]

		switch op.Kind {
		case OpSet:
			if byteorder.Compare(op.Key, key) == 0 {
				return op.Value, true, false
			}
		case OpClear:
			if byteorder.Compare(op.Key, key) == 0 {
				return nil, true, true
			}
		case OpClearRange:
			if byteorder.Compare(op.Key, key) <= 0 && byteorder.Compare(key, op.End) < 0 {
				return nil, true, true
			}
		}
	}

	return nil, false, false
}

// MergeRange applies ops, in forward (insertion) order, onto base (which
// must already be sorted ascending by Key and restricted to [begin, end)),
// returning the effective ascending sequence of entries in [begin, end)
// after every buffered write has taken effect. This is the
// "materialize-and-merge" strategy of spec.md §4.5.
func MergeRange(base []Entry, ops []WriteOp, begin, end []byte) []Entry {
	effective := make(map[string]*Entry, len(base)+len(ops))
	order := make([]string, 0, len(base)+len(ops))

	put := func(k string, e *Entry) {
		if _, exists := effective[k]; !exists {
			order = append(order, k)
		}

		effective[k] = e
	}

	for i := range base {
		k := string(base[i].Key)
		e := base[i]
		put(k, &e)
	}

	inRange := func(key []byte) bool {
		if begin != nil && byteorder.Compare(key, begin) < 0 {
			return false
		}

		if end != nil && byteorder.Compare(key, end) >= 0 {
			return false
		}

		return true
	}

	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if inRange(op.Key) {
				put(string(op.Key), &Entry{Key: op.Key, Value: op.Value})
			}
		case OpClear:
			k := string(op.Key)
			if _, exists := effective[k]; exists {
				effective[k] = nil
			} else if inRange(op.Key) {
				put(k, nil)
			}
		case OpClearRange:
			for k, e := range effective {
				if e == nil {
					continue
				}

				if byteorder.Compare(e.Key, op.Key) >= 0 && byteorder.Compare(e.Key, op.End) < 0 {
					effective[k] = nil
				}
			}
		}
	}

	out := make([]Entry, 0, len(order))

	for _, k := range order {
		if e := effective[k]; e != nil {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return byteorder.Compare(out[i].Key, out[j].Key) < 0
	})

	return out
}

// RangeOptions controls a GetRange call.
type RangeOptions struct {
	// Limit truncates the result after direction is applied. Zero means
	// unlimited.
	Limit int

	// Reverse iterates from the end of the resolved range toward the
	// beginning.
	Reverse bool
}

// ApplyDirectionAndLimit reorders (if Reverse) and truncates (if Limit > 0)
// an ascending slice of entries per spec.md §4.4's "limit truncates after
// direction is applied" rule.
func ApplyDirectionAndLimit(entries []Entry, opts RangeOptions) []Entry {
	out := entries

	if opts.Reverse {
		reversed := make([]Entry, len(out))
		for i, e := range out {
			reversed[len(out)-1-i] = e
		}

		out = reversed
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	return out
}

// RangeSelector is the pair of KeySelectors addressing a range scan.
type RangeSelector struct {
	Begin keysel.Selector
	End   keysel.Selector
}

// ResolveAgainst resolves rs against the ascending key sequence keys,
// returning the [start, end) index pair (spec.md §4.4).
func (rs RangeSelector) ResolveAgainst(keys [][]byte) (start, end int) {
	return keysel.ResolveRange(keys, rs.Begin, rs.End)
}

// KeysOf extracts the Key field of each entry, in order, for use with
// [keysel.Resolve]/[keysel.ResolveRange].
func KeysOf(entries []Entry) [][]byte {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}

	return out
}
