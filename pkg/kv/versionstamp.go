package kv

import (
	"encoding/binary"
	"fmt"
)

// VersionstampSize is the width, in bytes, of a versionstamp: an 8-byte
// monotonic counter followed by a 2-byte intra-commit batch order.
const VersionstampSize = 10

// NewVersionstamp builds a canonical 10-byte versionstamp from a
// monotonically increasing commit counter and a batch order (the position
// of this write within its commit, for backends that batch multiple
// versionstamped writes per transaction).
func NewVersionstamp(counter uint64, batchOrder uint16) []byte {
	out := make([]byte, VersionstampSize)
	binary.BigEndian.PutUint64(out[:8], counter)
	binary.BigEndian.PutUint16(out[8:], batchOrder)

	return out
}

// ApplyVersionstampedKey substitutes a 10-byte placeholder inside key with
// stamp and trims the trailing 2-byte little-endian offset FDB-style
// versionstamped-key operations use to mark the placeholder's position.
//
// Layout expected in key: [... 10-byte placeholder ... ][2-byte LE offset].
// The offset is relative to the start of key and points at the first byte
// of the placeholder.
func ApplyVersionstampedKey(key []byte, stamp []byte) ([]byte, error) {
	if len(key) < 2 {
		return nil, fmt.Errorf("versionstamped key too short: %d bytes", len(key))
	}

	offset := int(binary.LittleEndian.Uint16(key[len(key)-2:]))
	body := key[:len(key)-2]

	if offset < 0 || offset+VersionstampSize > len(body) {
		return nil, fmt.Errorf("versionstamp offset %d out of range for %d-byte key", offset, len(body))
	}

	out := make([]byte, len(body))
	copy(out, body)
	copy(out[offset:offset+VersionstampSize], stamp)

	return out, nil
}

// ApplyVersionstampedValue substitutes a 10-byte placeholder inside value
// with stamp and trims the trailing 4-byte little-endian offset
// versionstamped-value operations use.
func ApplyVersionstampedValue(value []byte, stamp []byte) ([]byte, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("versionstamped value too short: %d bytes", len(value))
	}

	offset := int(binary.LittleEndian.Uint32(value[len(value)-4:]))
	body := value[:len(value)-4]

	if offset < 0 || offset+VersionstampSize > len(body) {
		return nil, fmt.Errorf("versionstamp offset %d out of range for %d-byte value", offset, len(body))
	}

	out := make([]byte, len(body))
	copy(out, body)
	copy(out[offset:offset+VersionstampSize], stamp)

	return out, nil
}
