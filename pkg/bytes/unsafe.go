// Package bytes provides zero-allocation byte/string conversions.
package bytes

import "unsafe"

// StringToBytes converts a string to []byte without copying. The result
// shares memory with s and must not be modified.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// BytesToString converts a []byte to string without copying. The input
// must not be modified afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}
