// Package subspace implements a prefix-scoped key namespace built on top of
// the tuple layer: a Subspace owns an immutable byte prefix, and every key
// it produces or recognizes begins with that prefix.
package subspace

import (
	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/kverr"
	"github.com/otterkv/otterkv/pkg/tuple"
)

// Subspace is a Bytes prefix defining a scoped keyspace. The zero value is
// the subspace with an empty prefix (the whole keyspace).
type Subspace struct {
	prefix []byte
}

// FromBytes returns a Subspace whose prefix is exactly p. p is copied.
func FromBytes(p []byte) Subspace {
	out := make([]byte, len(p))
	copy(out, p)

	return Subspace{prefix: out}
}

// FromTuple returns a Subspace whose prefix is the packed encoding of t.
func FromTuple(t tuple.Tuple) (Subspace, error) {
	b, err := t.Pack()
	if err != nil {
		return Subspace{}, err
	}

	return Subspace{prefix: b}, nil
}

// Bytes returns the subspace's prefix. Callers must not mutate the result.
func (s Subspace) Bytes() []byte { return s.prefix }

// Sub returns a child subspace whose prefix is s's prefix followed by the
// packed encoding of elements.
func (s Subspace) Sub(elements ...tuple.Element) (Subspace, error) {
	enc, err := tuple.Of(elements...).Pack()
	if err != nil {
		return Subspace{}, err
	}

	child := make([]byte, 0, len(s.prefix)+len(enc))
	child = append(child, s.prefix...)
	child = append(child, enc...)

	return Subspace{prefix: child}, nil
}

// Pack returns s's prefix followed by the packed encoding of t.
func (s Subspace) Pack(t tuple.Tuple) ([]byte, error) {
	enc, err := t.Pack()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(s.prefix)+len(enc))
	out = append(out, s.prefix...)
	out = append(out, enc...)

	return out, nil
}

// Unpack strips s's prefix from key and decodes the remainder as a Tuple.
// It fails with [kverr.ErrPrefixMismatch] if key does not start with s's
// prefix.
func (s Subspace) Unpack(key []byte) (tuple.Tuple, error) {
	if !s.Contains(key) {
		return nil, kverr.ErrPrefixMismatch
	}

	return tuple.Unpack(key[len(s.prefix):])
}

// Contains reports whether key begins with s's prefix.
func (s Subspace) Contains(key []byte) bool {
	if len(key) < len(s.prefix) {
		return false
	}

	return byteorder.Compare(key[:len(s.prefix)], s.prefix) == 0
}

// Range returns the begin/end key pair covering every key that has s's
// prefix but is not equal to the bare prefix itself:
// begin = prefix ++ 0x00, end = strinc(prefix).
func (s Subspace) Range() (begin, end []byte, err error) {
	begin = append(append([]byte{}, s.prefix...), 0x00)

	if len(s.prefix) == 0 {
		return begin, []byte{0xFF}, nil
	}

	end, err = byteorder.StrInc(s.prefix)
	if err != nil {
		return nil, nil, err
	}

	return begin, end, nil
}

// PrefixRange returns the begin/end key pair covering every key that has
// s's prefix, including the bare prefix itself: begin = prefix,
// end = strinc(prefix).
func (s Subspace) PrefixRange() (begin, end []byte, err error) {
	begin = append([]byte{}, s.prefix...)

	if len(s.prefix) == 0 {
		return begin, []byte{0xFF}, nil
	}

	end, err = byteorder.StrInc(s.prefix)
	if err != nil {
		return nil, nil, err
	}

	return begin, end, nil
}

// TupleRange returns the begin/end key pair s.Pack(from), s.Pack(to).
func (s Subspace) TupleRange(from, to tuple.Tuple) (begin, end []byte, err error) {
	begin, err = s.Pack(from)
	if err != nil {
		return nil, nil, err
	}

	end, err = s.Pack(to)
	if err != nil {
		return nil, nil, err
	}

	return begin, end, nil
}

// Equal reports whether s and other have identical prefixes.
func (s Subspace) Equal(other Subspace) bool {
	return byteorder.Compare(s.prefix, other.prefix) == 0
}
