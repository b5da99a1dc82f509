// Package byteorder provides the lexicographic byte-comparison primitives
// every higher layer in this module builds on: strict octet ordering,
// strinc (next-prefix), and the null-escape codec used to self-delimit
// variable-length byte strings inside the tuple layer.
package byteorder

import (
	"bytes"

	"github.com/otterkv/otterkv/pkg/kverr"
)

// Compare returns a negative number if lhs < rhs, zero if they are equal,
// and a positive number if lhs > rhs, comparing octet by octet. A string
// that is a strict prefix of the other sorts first.
func Compare(lhs, rhs []byte) int {
	return bytes.Compare(lhs, rhs)
}

// StrInc returns the strict upper bound of every key having p as a prefix:
// trailing 0xFF bytes are stripped, then the new last byte is incremented.
// It fails with [kverr.ErrCannotIncrementKey] if p consists entirely of
// 0xFF bytes (including the empty string).
func StrInc(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	copy(out, p)

	n := len(out)
	for n > 0 && out[n-1] == 0xFF {
		n--
	}

	if n == 0 {
		return nil, kverr.ErrCannotIncrementKey
	}

	out = out[:n]
	out[n-1]++

	return out, nil
}

// EscapeNull null-escapes b: each 0x00 byte becomes the two-byte sequence
// 0x00 0xFF, and a single unescaped 0x00 terminator is appended. The result
// is self-delimiting when decoded with [UnescapeNull].
func EscapeNull(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)

	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}

	out = append(out, 0x00)

	return out
}

// UnescapeNull consumes a null-escaped, null-terminated byte string from the
// front of buf and returns the decoded payload along with the number of
// input bytes consumed (including the terminator). It fails with
// [kverr.ErrUnexpectedEndOfData] if the terminator is never found.
func UnescapeNull(buf []byte) (decoded []byte, consumed int, err error) {
	out := make([]byte, 0, len(buf))

	i := 0
	for i < len(buf) {
		c := buf[i]

		if c != 0x00 {
			out = append(out, c)
			i++

			continue
		}

		// c == 0x00: either an escaped null (followed by 0xFF) or the
		// terminator.
		if i+1 < len(buf) && buf[i+1] == 0xFF {
			out = append(out, 0x00)
			i += 2

			continue
		}

		// Unescaped 0x00: terminator.
		return out, i + 1, nil
	}

	return nil, 0, kverr.ErrUnexpectedEndOfData
}
