package tuple_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otterkv/otterkv/pkg/byteorder"
	"github.com/otterkv/otterkv/pkg/kverr"
	"github.com/otterkv/otterkv/pkg/tuple"
)

func packOK(t *testing.T, tup tuple.Tuple) []byte {
	t.Helper()

	b, err := tup.Pack()
	require.NoError(t, err)

	return b
}

// Scenario 4 from spec.md §8: packing Null, Bytes([]), String(""), Nested(()),
// Int(0), Float32(0), Double(0), False, True, UUID(zero) must produce
// strictly increasing byte strings in that exact order.
func TestTypeOrderingAcrossTypes(t *testing.T) {
	t.Parallel()

	elements := []tuple.Element{
		tuple.Null(),
		tuple.Bytes(nil),
		tuple.String(""),
		tuple.Nested(nil),
		tuple.Int(0),
		tuple.Float32(0),
		tuple.Float64(0),
		tuple.Bool(false),
		tuple.Bool(true),
		tuple.UUID(uuid.UUID{}),
	}

	var prev []byte

	for i, e := range elements {
		enc := packOK(t, tuple.Of(e))

		if i > 0 {
			require.Negative(t, byteorder.Compare(prev, enc),
				"element %d (%+v) should encode strictly less than element %d", i-1, elements[i-1], i)
		}

		prev = enc
	}
}

func TestIntegerOrderingAcrossFullRange(t *testing.T) {
	t.Parallel()

	values := []int64{
		math.MinInt64, math.MinInt64 + 1, -1 << 56, -1 << 40, -1 << 20,
		-65536, -257, -256, -255, -1, 0, 1, 255, 256, 257, 65536,
		1 << 20, 1 << 40, 1 << 56, math.MaxInt64 - 1, math.MaxInt64,
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		values = append(values, rng.Int63()-rng.Int63())
	}

	encoded := make(map[int64][]byte, len(values))
	for _, v := range values {
		encoded[v] = packOK(t, tuple.Of(tuple.Int(v)))
	}

	for _, a := range values {
		for _, b := range values {
			want := 0
			switch {
			case a < b:
				want = -1
			case a > b:
				want = 1
			}

			got := byteorder.Compare(encoded[a], encoded[b])
			gotSign := 0

			switch {
			case got < 0:
				gotSign = -1
			case got > 0:
				gotSign = 1
			}

			require.Equal(t, want, gotSign, "compare(%d, %d)", a, b)
		}
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	t.Parallel()

	values := []int64{math.MinInt64, math.MinInt64 + 1, -1, 0, 1, math.MaxInt64}

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		values = append(values, rng.Int63()-rng.Int63())
	}

	for _, v := range values {
		enc := packOK(t, tuple.Of(tuple.Int(v)))

		got, err := tuple.Unpack(enc)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, v, got[0].AsInt())
	}
}

func TestFloatOrdering(t *testing.T) {
	t.Parallel()

	values32 := []float32{
		float32(math.Inf(-1)), -1e30, -1.5, -0.0001, 0, 0.0001, 1.5, 1e30,
		float32(math.Inf(1)),
	}

	negZero32 := math.Float32frombits(0x80000000)

	var prev []byte

	ordered := append([]float32{}, values32[:4]...)
	ordered = append(ordered, negZero32)
	ordered = append(ordered, values32[4:]...)

	for i, v := range ordered {
		enc := packOK(t, tuple.Of(tuple.Float32(v)))
		if i > 0 {
			require.Negative(t, byteorder.Compare(prev, enc), "value %v at index %d", v, i)
		}

		prev = enc
	}
}

func TestFloatNaNBitPatternEquality(t *testing.T) {
	t.Parallel()

	nanBits := uint32(0x7FC00001)
	n1 := math.Float32frombits(nanBits)
	n2 := math.Float32frombits(nanBits)

	e1 := packOK(t, tuple.Of(tuple.Float32(n1)))
	e2 := packOK(t, tuple.Of(tuple.Float32(n2)))

	require.True(t, byteorder.Compare(e1, e2) == 0)

	got, err := tuple.Unpack(e1)
	require.NoError(t, err)
	require.Equal(t, nanBits, math.Float32bits(got[0].AsFloat32()))
}

func TestFloat64RoundTrip(t *testing.T) {
	t.Parallel()

	values := []float64{0, math.Copysign(0, -1), 1.5, -1.5, math.Inf(1), math.Inf(-1), math.MaxFloat64, -math.MaxFloat64}

	for _, v := range values {
		enc := packOK(t, tuple.Of(tuple.Float64(v)))

		got, err := tuple.Unpack(enc)
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(v), math.Float64bits(got[0].AsFloat64()))
	}
}

func TestNestedTupleWithEmbeddedNullInString(t *testing.T) {
	t.Parallel()

	inner := tuple.Of(tuple.String("hello\x00world"), tuple.String("after"))
	outer := tuple.Of(tuple.Nested(inner))

	enc := packOK(t, outer)

	// The inner null byte must appear escaped as 00 FF somewhere in the
	// nested payload (per spec.md §8 scenario 5).
	require.Contains(t, string(enc), "\x00\xff")

	got, err := tuple.Unpack(enc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, tuple.KindTuple, got[0].Kind())

	children := got[0].AsTuple()
	require.Len(t, children, 2)
	require.Equal(t, "hello\x00world", children[0].AsString())
	require.Equal(t, "after", children[1].AsString())
}

func TestRoundTripAllKinds(t *testing.T) {
	t.Parallel()

	original := tuple.Of(
		tuple.Null(),
		tuple.Bytes([]byte{0x01, 0x00, 0x02}),
		tuple.String("héllo"),
		tuple.Int(-12345),
		tuple.Float32(3.25),
		tuple.Float64(-9.5),
		tuple.Bool(true),
		tuple.Bool(false),
		tuple.UUID(uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10")),
		tuple.Nested(tuple.Of(tuple.Int(1), tuple.String("x"))),
	)

	enc := packOK(t, original)

	decoded, err := tuple.Unpack(enc)
	require.NoError(t, err)
	require.Len(t, decoded, original.Len())

	for i := range original {
		if diff := cmp.Diff(elementSnapshot(original[i]), elementSnapshot(decoded[i])); diff != "" {
			t.Errorf("element %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

// elementSnapshot projects an Element into a comparable plain value for use
// with go-cmp (Element itself intentionally exposes no exported fields).
func elementSnapshot(e tuple.Element) any {
	switch e.Kind() {
	case tuple.KindNull:
		return nil
	case tuple.KindBytes:
		return e.AsBytes()
	case tuple.KindString:
		return e.AsString()
	case tuple.KindInt:
		return e.AsInt()
	case tuple.KindFloat32:
		return e.AsFloat32()
	case tuple.KindFloat64:
		return e.AsFloat64()
	case tuple.KindBool:
		return e.AsBool()
	case tuple.KindUUID:
		return e.AsUUID()
	case tuple.KindTuple:
		children := e.AsTuple()
		out := make([]any, len(children))

		for i, c := range children {
			out[i] = elementSnapshot(c)
		}

		return out
	default:
		return "unknown"
	}
}

func TestUnpackInvalidTypeCode(t *testing.T) {
	t.Parallel()

	_, err := tuple.Unpack([]byte{0xFE})
	require.ErrorIs(t, err, kverr.ErrInvalidTypeCode)
}

func TestUnpackTruncatedBytes(t *testing.T) {
	t.Parallel()

	_, err := tuple.Unpack([]byte{0x01, 'a', 'b'}) // missing terminator
	require.ErrorIs(t, err, kverr.ErrUnexpectedEndOfData)
}

func TestUnpackInvalidUTF8(t *testing.T) {
	t.Parallel()

	enc := append([]byte{0x02}, 0xFF, 0xFE, 0x00)

	_, err := tuple.Unpack(enc)
	require.ErrorIs(t, err, kverr.ErrInvalidUTF8)
}

func TestTupleEqual(t *testing.T) {
	t.Parallel()

	a := tuple.Of(tuple.Int(1), tuple.String("x"))
	b := tuple.Of(tuple.Int(1), tuple.String("x"))
	c := tuple.Of(tuple.Int(2), tuple.String("x"))

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestGetOutOfRangeReturnsNull(t *testing.T) {
	t.Parallel()

	tup := tuple.Of(tuple.Int(1))

	require.Equal(t, tuple.KindNull, tup.Get(5).Kind())
	require.Equal(t, tuple.KindNull, tup.Get(-1).Kind())
}
