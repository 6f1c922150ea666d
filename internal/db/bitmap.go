package db

import (
	"strconv"

	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// Bitmaps are stored as 1024-byte fragments; the subkey is the decimal byte
// offset of the fragment start, and the metadata size is the bit length
// high-water mark in bytes.

// BitmapFragmentSize is the byte span of one bitmap fragment.
const BitmapFragmentSize = 1024

func bitmapFragmentSubkey(byteOffset uint32) []byte {
	frag := byteOffset / BitmapFragmentSize * BitmapFragmentSize
	return []byte(strconv.FormatUint(uint64(frag), 10))
}

// SetBit sets or clears the bit at offset. Returns the previous bit value.
func (d *DB) SetBit(key []byte, offset uint32, on bool) (bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeBitmap)
	if err != nil {
		return false, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeBitmap, Version: d.newVersion()}
	}

	byteOffset := offset / 8
	sub := bitmapFragmentSubkey(byteOffset)
	sk := d.subkey(storage.ColumnSubkey, key, meta.Version, sub)

	var frag []byte
	if ok {
		if val, exists, err := d.store.Get(sk); err != nil {
			return false, err
		} else if exists {
			frag = val
		}
	}
	inFrag := int(byteOffset % BitmapFragmentSize)
	if inFrag >= len(frag) {
		grown := make([]byte, inFrag+1)
		copy(grown, frag)
		frag = grown
	}
	mask := byte(1) << (7 - offset%8)
	prev := frag[inFrag]&mask != 0
	if on {
		frag[inFrag] |= mask
	} else {
		frag[inFrag] &^= mask
	}
	if byteOffset+1 > meta.Size {
		meta.Size = byteOffset + 1
	}

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(nil))
	batch.Put(sk, frag)
	return prev, d.write(key, batch)
}

// GetBit reads the bit at offset; bits past the written range are zero.
func (d *DB) GetBit(key []byte, offset uint32) (bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeBitmap)
	if err != nil || !ok {
		return false, err
	}
	byteOffset := offset / 8
	sk := d.subkey(storage.ColumnSubkey, key, meta.Version, bitmapFragmentSubkey(byteOffset))
	frag, exists, err := d.store.Get(sk)
	if err != nil || !exists {
		return false, err
	}
	inFrag := int(byteOffset % BitmapFragmentSize)
	if inFrag >= len(frag) {
		return false, nil
	}
	return frag[inFrag]&(byte(1)<<(7-offset%8)) != 0, nil
}
