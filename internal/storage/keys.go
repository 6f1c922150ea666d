package storage

import (
	"encoding/binary"
	"fmt"
)

// Column prefixes. All records live in one badger keyspace; the first byte
// selects the logical column family.
const (
	ColumnMetadata = byte('m')
	ColumnSubkey   = byte('s')
	ColumnStream   = byte('t')
	ColumnWAL      = byte('w')
)

// DefaultNamespace is used when no tenant namespace is configured.
const DefaultNamespace = "__namespace"

// Metadata keys: 'm' | nsLen u8 | ns | slot u16 | key.
// Keys of a slot therefore share a common byte prefix, which the snapshot
// scanner relies on.

// ComposeSlotKeyPrefix builds the metadata-column prefix shared by every key
// of a slot.
func ComposeSlotKeyPrefix(ns []byte, slot uint16) []byte {
	buf := make([]byte, 0, 4+len(ns))
	buf = append(buf, ColumnMetadata, byte(len(ns)))
	buf = append(buf, ns...)
	var s [2]byte
	binary.BigEndian.PutUint16(s[:], slot)
	return append(buf, s[:]...)
}

// EncodeMetadataKey builds the metadata record key for a user key.
func EncodeMetadataKey(ns []byte, slot uint16, key []byte) []byte {
	buf := ComposeSlotKeyPrefix(ns, slot)
	return append(buf, key...)
}

// DecodeMetadataKey splits an encoded metadata key into namespace, slot and
// user key.
func DecodeMetadataKey(b []byte) (ns []byte, slot uint16, key []byte, err error) {
	if len(b) < 4 || b[0] != ColumnMetadata {
		return nil, 0, nil, fmt.Errorf("malformed metadata key of length %d", len(b))
	}
	nsLen := int(b[1])
	if len(b) < 2+nsLen+2 {
		return nil, 0, nil, fmt.Errorf("truncated metadata key of length %d", len(b))
	}
	ns = b[2 : 2+nsLen]
	slot = binary.BigEndian.Uint16(b[2+nsLen:])
	key = b[2+nsLen+2:]
	return ns, slot, key, nil
}

// Subkey and stream keys:
// col | nsLen u8 | ns | slot u16 | keyLen u32 | key | version u64 | subkey.
// The version makes stale elements unreachable after a full-key overwrite.

// ComposeSubkeyPrefix builds the per-version element prefix in the given
// column (ColumnSubkey or ColumnStream).
func ComposeSubkeyPrefix(col byte, ns []byte, slot uint16, key []byte, version uint64) []byte {
	buf := make([]byte, 0, 16+len(ns)+len(key))
	buf = append(buf, col, byte(len(ns)))
	buf = append(buf, ns...)
	var s [2]byte
	binary.BigEndian.PutUint16(s[:], slot)
	buf = append(buf, s[:]...)
	buf = EncodeFixed32(buf, uint32(len(key)))
	buf = append(buf, key...)
	return EncodeFixed64(buf, version)
}

// EncodeSubkey builds the full element key.
func EncodeSubkey(col byte, ns []byte, slot uint16, key []byte, version uint64, subkey []byte) []byte {
	buf := ComposeSubkeyPrefix(col, ns, slot, key, version)
	return append(buf, subkey...)
}

// DecodedSubkey carries the parts of a subkey or stream record key.
type DecodedSubkey struct {
	Namespace []byte
	Slot      uint16
	Key       []byte
	Version   uint64
	Subkey    []byte
}

// DecodeSubkey splits an encoded subkey or stream key.
func DecodeSubkey(b []byte) (DecodedSubkey, error) {
	var d DecodedSubkey
	if len(b) < 2 || (b[0] != ColumnSubkey && b[0] != ColumnStream) {
		return d, fmt.Errorf("malformed subkey of length %d", len(b))
	}
	nsLen := int(b[1])
	rest := b[2:]
	if len(rest) < nsLen+2+4 {
		return d, fmt.Errorf("truncated subkey of length %d", len(b))
	}
	d.Namespace = rest[:nsLen]
	rest = rest[nsLen:]
	d.Slot = binary.BigEndian.Uint16(rest)
	rest = rest[2:]
	keyLen := int(DecodeFixed32(rest))
	rest = rest[4:]
	if len(rest) < keyLen+8 {
		return d, fmt.Errorf("truncated subkey of length %d", len(b))
	}
	d.Key = rest[:keyLen]
	rest = rest[keyLen:]
	d.Version = DecodeFixed64(rest)
	d.Subkey = rest[8:]
	return d, nil
}

// walKey builds the WAL record key for a batch sequence.
func walKey(seq uint64) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, ColumnWAL)
	return EncodeFixed64(buf, seq)
}

// walSeqFromKey extracts the batch sequence from a WAL record key.
func walSeqFromKey(b []byte) uint64 {
	return DecodeFixed64(b[1:])
}
