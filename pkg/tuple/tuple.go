// Package tuple implements the order-preserving, type-tagged binary codec
// for heterogeneous composite keys described as the Tuple Layer: a self
// delimiting format where concatenating the encodings of two tuples
// preserves the lexicographic order of the tuples themselves.
//
// The encoding is bit-exact with the FoundationDB tuple layer wire format:
// the same type codes, the same big-endian variable-length integer scheme,
// and the same sign/exponent-flipped IEEE-754 float encoding.
package tuple

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/kverr"
)

// Kind identifies which variant an Element holds. Kind values are not the
// wire type codes (see the code* constants); they exist so callers can switch on a
// tagged sum instead of re-inspecting decoded Go types.
type Kind uint8

const (
	KindNull Kind = iota
	KindBytes
	KindString
	KindTuple
	KindInt
	KindFloat32
	KindFloat64
	KindBool
	KindUUID
)

// Element is one value inside a Tuple. The zero Element is KindNull.
// Copying an Element copies its scalar payload; a Bytes or nested Tuple
// payload shares its backing array with the copy.
type Element struct {
	kind    Kind
	bytes   []byte
	str     string
	integer int64
	f32     float32
	f64     float64
	boolean bool
	uuid    uuid.UUID
	nested  Tuple
}

// Kind reports which variant e holds.
func (e Element) Kind() Kind { return e.kind }

// Null returns the Null element.
func Null() Element { return Element{kind: KindNull} }

// Bytes returns a Bytes element wrapping b. b is not copied.
func Bytes(b []byte) Element { return Element{kind: KindBytes, bytes: b} }

// String returns a String element.
func String(s string) Element { return Element{kind: KindString, str: s} }

// Int returns a signed Integer element.
func Int(v int64) Element { return Element{kind: KindInt, integer: v} }

// Float32 returns a Float32 element.
func Float32(v float32) Element { return Element{kind: KindFloat32, f32: v} }

// Float64 returns a Float64 element.
func Float64(v float64) Element { return Element{kind: KindFloat64, f64: v} }

// Bool returns a Bool element.
func Bool(v bool) Element { return Element{kind: KindBool, boolean: v} }

// UUID returns a UUID element.
func UUID(v uuid.UUID) Element { return Element{kind: KindUUID, uuid: v} }

// Nested returns an element wrapping a child Tuple.
func Nested(t Tuple) Element { return Element{kind: KindTuple, nested: t} }

// AsBytes returns the payload of a KindBytes element. The result is
// unspecified for other kinds.
func (e Element) AsBytes() []byte { return e.bytes }

// AsString returns the payload of a KindString element.
func (e Element) AsString() string { return e.str }

// AsInt returns the payload of a KindInt element.
func (e Element) AsInt() int64 { return e.integer }

// AsFloat32 returns the payload of a KindFloat32 element.
func (e Element) AsFloat32() float32 { return e.f32 }

// AsFloat64 returns the payload of a KindFloat64 element.
func (e Element) AsFloat64() float64 { return e.f64 }

// AsBool returns the payload of a KindBool element.
func (e Element) AsBool() bool { return e.boolean }

// AsUUID returns the payload of a KindUUID element.
func (e Element) AsUUID() uuid.UUID { return e.uuid }

// AsTuple returns the payload of a KindTuple element.
func (e Element) AsTuple() Tuple { return e.nested }

// Tuple is an ordered sequence of typed Elements. The zero value is the
// empty tuple. Tuple is value-semantic: Append returns a new Tuple and
// never mutates the receiver's backing array in place.
type Tuple []Element

// Of builds a Tuple from a list of Elements. It is a convenience
// constructor equivalent to Tuple{e1, e2, ...}.
func Of(elements ...Element) Tuple {
	out := make(Tuple, len(elements))
	copy(out, elements)

	return out
}

// Append returns a new Tuple with e appended.
func (t Tuple) Append(e Element) Tuple {
	out := make(Tuple, len(t)+1)
	copy(out, t)
	out[len(t)] = e

	return out
}

// AppendTuple returns a new Tuple with other's elements appended.
func (t Tuple) AppendTuple(other Tuple) Tuple {
	out := make(Tuple, len(t)+len(other))
	copy(out, t)
	copy(out[len(t):], other)

	return out
}

// Get returns element i, or Null() if i is out of range.
func (t Tuple) Get(i int) Element {
	if i < 0 || i >= len(t) {
		return Null()
	}

	return t[i]
}

// Len returns the number of elements in t.
func (t Tuple) Len() int { return len(t) }

// Equal reports whether t and other encode to identical bytes.
func (t Tuple) Equal(other Tuple) bool {
	a, errA := t.Pack()
	b, errB := other.Pack()
	if errA != nil || errB != nil {
		return false
	}

	return byteorder.Compare(a, b) == 0
}

// Wire type codes, per the Tuple Layer wire format.
const (
	codeNull       byte = 0x00
	codeBytes      byte = 0x01
	codeString     byte = 0x02
	codeNested     byte = 0x05
	codeIntZero    byte = 0x14
	codeNegIntBase byte = 0x0C // codeIntZero - 8
	codePosIntBase byte = 0x14 // codeIntZero
	codeFloat32    byte = 0x20
	codeFloat64    byte = 0x21
	codeFalse      byte = 0x26
	codeTrue       byte = 0x27
	codeUUID       byte = 0x30
)

// Pack encodes t into its bit-exact wire representation. Pack never fails:
// every constructible Element has a defined encoding.
func (t Tuple) Pack() ([]byte, error) {
	var out []byte

	for _, e := range t {
		enc, err := packElement(e)
		if err != nil {
			return nil, err
		}

		out = append(out, enc...)
	}

	return out, nil
}

// MustPack is Pack, panicking on error. Packing only fails for malformed
// Elements, which cannot be constructed through this package's API, so
// MustPack is safe to use when building keys from known-good Elements.
func (t Tuple) MustPack() []byte {
	b, err := t.Pack()
	if err != nil {
		panic(err)
	}

	return b
}

func packElement(e Element) ([]byte, error) {
	switch e.kind {
	case KindNull:
		return []byte{codeNull}, nil
	case KindBytes:
		return append([]byte{codeBytes}, byteorder.EscapeNull(e.bytes)...), nil
	case KindString:
		return append([]byte{codeString}, byteorder.EscapeNull([]byte(e.str))...), nil
	case KindTuple:
		return packNested(e.nested)
	case KindInt:
		return packInt(e.integer), nil
	case KindFloat32:
		return packFloat32(e.f32), nil
	case KindFloat64:
		return packFloat64(e.f64), nil
	case KindBool:
		if e.boolean {
			return []byte{codeTrue}, nil
		}

		return []byte{codeFalse}, nil
	case KindUUID:
		b, _ := e.uuid.MarshalBinary() // uuid.UUID.MarshalBinary never errors

		return append([]byte{codeUUID}, b...), nil
	default:
		return nil, fmt.Errorf("tuple: unknown element kind %d: %w", e.kind, kverr.ErrInvalidTypeCode)
	}
}

func packNested(children Tuple) ([]byte, error) {
	var body []byte

	for _, c := range children {
		enc, err := packElement(c)
		if err != nil {
			return nil, err
		}

		body = append(body, enc...)
	}

	out := make([]byte, 0, len(body)+2)
	out = append(out, codeNested)
	out = append(out, byteorder.EscapeNull(body)...)

	return out, nil
}

// sizeLimits[n] is the largest unsigned value representable in n bytes.
var sizeLimits = [9]uint64{
	0,
	1<<8 - 1,
	1<<16 - 1,
	1<<24 - 1,
	1<<32 - 1,
	1<<40 - 1,
	1<<48 - 1,
	1<<56 - 1,
	math.MaxUint64,
}

func minBytesFor(u uint64) int {
	n := 0
	for n < 8 && sizeLimits[n] < u {
		n++
	}

	return n
}

func packInt(v int64) []byte {
	if v == 0 {
		return []byte{codeIntZero}
	}

	if v > 0 {
		u := uint64(v)
		n := minBytesFor(u)

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, u)

		out := make([]byte, 0, n+1)
		out = append(out, codePosIntBase+byte(n))
		out = append(out, buf[8-n:]...)

		return out
	}

	// Negative: m = |v| computed in the unsigned domain to handle
	// math.MinInt64 (whose negation overflows int64).
	m := uint64(-(v + 1)) + 1
	n := minBytesFor(m)

	out := make([]byte, 0, n+1)
	out = append(out, codeNegIntBase+byte(8-n))

	if n < 8 {
		complement := sizeLimits[n] - m
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, complement)
		out = append(out, buf[8-n:]...)
	} else {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v))
		out = append(out, buf...)
	}

	return out
}

func unpackInt(code byte, payload []byte) (int64, int, error) {
	if code == codeIntZero {
		return 0, 0, nil
	}

	if code > codeIntZero {
		n := int(code - codePosIntBase)
		if n > 8 || len(payload) < n {
			return 0, 0, kverr.ErrUnexpectedEndOfData
		}

		buf := make([]byte, 8)
		copy(buf[8-n:], payload[:n])

		u := binary.BigEndian.Uint64(buf)
		if n < 8 && u > sizeLimits[n] {
			return 0, 0, kverr.ErrIntegerOverflow
		}

		if n == 8 && u > math.MaxInt64 {
			return 0, 0, kverr.ErrIntegerOverflow
		}

		return int64(u), n, nil
	}

	n := 8 - int(code-codeNegIntBase)
	if n > 8 || n < 1 || len(payload) < n {
		return 0, 0, kverr.ErrUnexpectedEndOfData
	}

	buf := make([]byte, 8)
	copy(buf[8-n:], payload[:n])

	if n == 8 {
		return int64(binary.BigEndian.Uint64(buf)), n, nil
	}

	complement := binary.BigEndian.Uint64(buf)
	m := sizeLimits[n] - complement

	if m > math.MaxInt64 {
		return 0, 0, kverr.ErrIntegerOverflow
	}

	return -int64(m), n, nil
}

func packFloat32(v float32) []byte {
	bits := math.Float32bits(v)

	if bits&0x8000_0000 != 0 {
		bits = ^bits
	} else {
		bits ^= 0x8000_0000
	}

	buf := make([]byte, 5)
	buf[0] = codeFloat32
	binary.BigEndian.PutUint32(buf[1:], bits)

	return buf
}

func unpackFloat32(payload []byte) (float32, error) {
	if len(payload) < 4 {
		return 0, kverr.ErrUnexpectedEndOfData
	}

	bits := binary.BigEndian.Uint32(payload[:4])

	if bits&0x8000_0000 != 0 {
		bits ^= 0x8000_0000
	} else {
		bits = ^bits
	}

	return math.Float32frombits(bits), nil
}

func packFloat64(v float64) []byte {
	bits := math.Float64bits(v)

	if bits&0x8000_0000_0000_0000 != 0 {
		bits = ^bits
	} else {
		bits ^= 0x8000_0000_0000_0000
	}

	buf := make([]byte, 9)
	buf[0] = codeFloat64
	binary.BigEndian.PutUint64(buf[1:], bits)

	return buf
}

func unpackFloat64(payload []byte) (float64, error) {
	if len(payload) < 8 {
		return 0, kverr.ErrUnexpectedEndOfData
	}

	bits := binary.BigEndian.Uint64(payload[:8])

	if bits&0x8000_0000_0000_0000 != 0 {
		bits ^= 0x8000_0000_0000_0000
	} else {
		bits = ^bits
	}

	return math.Float64frombits(bits), nil
}

// Unpack decodes b into a Tuple in a single forward pass. It fails with
// [kverr.ErrInvalidTypeCode], [kverr.ErrUnexpectedEndOfData],
// [kverr.ErrIntegerOverflow] or [kverr.ErrInvalidUTF8].
func Unpack(b []byte) (Tuple, error) {
	var out Tuple

	i := 0
	for i < len(b) {
		e, consumed, err := unpackElement(b[i:])
		if err != nil {
			return nil, err
		}

		out = append(out, e)
		i += consumed
	}

	return out, nil
}

func unpackElement(b []byte) (Element, int, error) {
	code := b[0]

	switch {
	case code == codeNull:
		return Null(), 1, nil

	case code == codeBytes:
		payload, consumed, err := byteorder.UnescapeNull(b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		return Bytes(payload), consumed + 1, nil

	case code == codeString:
		payload, consumed, err := byteorder.UnescapeNull(b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		if !utf8.Valid(payload) {
			return Element{}, 0, kverr.ErrInvalidUTF8
		}

		return String(string(payload)), consumed + 1, nil

	case code == codeNested:
		payload, consumed, err := byteorder.UnescapeNull(b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		children, err := Unpack(payload)
		if err != nil {
			return Element{}, 0, err
		}

		return Nested(children), consumed + 1, nil

	case code >= codeNegIntBase && code <= codePosIntBase+8:
		v, n, err := unpackInt(code, b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		return Int(v), n + 1, nil

	case code == codeFloat32:
		v, err := unpackFloat32(b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		return Float32(v), 5, nil

	case code == codeFloat64:
		v, err := unpackFloat64(b[1:])
		if err != nil {
			return Element{}, 0, err
		}

		return Float64(v), 9, nil

	case code == codeFalse:
		return Bool(false), 1, nil

	case code == codeTrue:
		return Bool(true), 1, nil

	case code == codeUUID:
		if len(b) < 17 {
			return Element{}, 0, kverr.ErrUnexpectedEndOfData
		}

		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return Element{}, 0, fmt.Errorf("tuple: decode uuid: %w", err)
		}

		return UUID(u), 17, nil

	default:
		return Element{}, 0, fmt.Errorf("tuple: type code 0x%02x: %w", code, kverr.ErrInvalidTypeCode)
	}
}

