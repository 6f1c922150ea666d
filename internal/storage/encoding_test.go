package storage

import (
	"bytes"
	"math"
	"sort"
	"testing"
)

func TestFixedRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 255, 1 << 31, math.MaxUint64} {
		b := EncodeFixed64(nil, n)
		if len(b) != 8 {
			t.Fatalf("EncodeFixed64 produced %d bytes", len(b))
		}
		if got := DecodeFixed64(b); got != n {
			t.Fatalf("DecodeFixed64 = %d, want %d", got, n)
		}
	}
	for _, n := range []uint32{0, 7, math.MaxUint32} {
		b := EncodeFixed32(nil, n)
		if got := DecodeFixed32(b); got != n {
			t.Fatalf("DecodeFixed32 = %d, want %d", got, n)
		}
	}
}

func TestDoubleOrderPreserving(t *testing.T) {
	scores := []float64{math.Inf(-1), -1e300, -3.5, -0.0, 0, 1e-9, 2.5, 42, 1e300, math.Inf(1)}
	encoded := make([][]byte, len(scores))
	for i, f := range scores {
		encoded[i] = EncodeDouble(nil, f)
		if got := DecodeDouble(encoded[i]); got != f && !(f == 0 && got == 0) {
			t.Fatalf("DecodeDouble(%v) = %v", f, got)
		}
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}) {
		t.Fatal("encoded doubles do not sort numerically")
	}
}

func TestFormatDoubleRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -2.5, 0.1, 3.0000000000000004, 1e17} {
		s := FormatDouble(f)
		got, err := ParseDouble(s)
		if err != nil {
			t.Fatalf("ParseDouble(%q): %v", s, err)
		}
		if got != f {
			t.Fatalf("round trip %v -> %q -> %v", f, s, got)
		}
	}
}
