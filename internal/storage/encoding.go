package storage

import (
	"encoding/binary"
	"math"
	"strconv"
)

// EncodeFixed64 appends n as 8 big-endian bytes.
func EncodeFixed64(buf []byte, n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return append(buf, b[:]...)
}

// DecodeFixed64 reads 8 big-endian bytes.
func DecodeFixed64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeFixed32 appends n as 4 big-endian bytes.
func EncodeFixed32(buf []byte, n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return append(buf, b[:]...)
}

// DecodeFixed32 reads 4 big-endian bytes.
func DecodeFixed32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// EncodeDouble appends f in an order-preserving 8-byte form: the sign bit is
// flipped for non-negative values and all bits are inverted for negative ones,
// so that bytewise comparison matches numeric order.
func EncodeDouble(buf []byte, f float64) []byte {
	u := math.Float64bits(f)
	if u>>63 == 0 {
		u |= 1 << 63
	} else {
		u = ^u
	}
	return EncodeFixed64(buf, u)
}

// DecodeDouble reverses EncodeDouble.
func DecodeDouble(b []byte) float64 {
	u := DecodeFixed64(b)
	if u>>63 == 1 {
		u &^= 1 << 63
	} else {
		u = ^u
	}
	return math.Float64frombits(u)
}

// FormatDouble renders a score with enough precision to round-trip (17
// significant digits), trimming a trailing exponent-free zero run the way
// the wire protocol expects ("1" rather than "1.0000000000000000").
func FormatDouble(f float64) string {
	s := strconv.FormatFloat(f, 'g', 17, 64)
	return s
}

// ParseDouble is the inverse of FormatDouble.
func ParseDouble(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
