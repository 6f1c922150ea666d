package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// SortedInt keys hold a set of u64 ids stored as fixed 8-byte big-endian
// subkeys, so a range scan walks ids in numeric order.

// SIAdd inserts ids, creating the key if needed. Returns the number newly
// added.
func (d *DB) SIAdd(key []byte, ids ...uint64) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSortedInt)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeSortedInt, Version: d.newVersion()}
	}

	added := 0
	var fresh [][]byte
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, storage.EncodeFixed64(nil, id))
		exists := false
		if ok {
			if _, exists, err = d.store.Get(sk); err != nil {
				return 0, err
			}
		}
		if exists {
			continue
		}
		added++
		fresh = append(fresh, sk)
	}
	if added == 0 {
		return 0, nil
	}
	meta.Size += uint32(added)

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(nil))
	for _, sk := range fresh {
		batch.Put(sk, nil)
	}
	return added, d.write(key, batch)
}

// SIRem removes ids, deleting the key when it empties. Returns the number
// removed.
func (d *DB) SIRem(key []byte, ids ...uint64) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSortedInt)
	if err != nil || !ok {
		return 0, err
	}
	var gone [][]byte
	for _, id := range ids {
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, storage.EncodeFixed64(nil, id))
		if _, exists, err := d.store.Get(sk); err != nil {
			return 0, err
		} else if exists {
			gone = append(gone, sk)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	meta.Size -= uint32(len(gone))

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(nil))
	for _, sk := range gone {
		batch.Delete(sk)
	}
	if meta.Size == 0 {
		batch.Delete(d.metadataKey(key))
	}
	return len(gone), d.write(key, batch)
}

// SIExists reports whether an id is present.
func (d *DB) SIExists(key []byte, id uint64) (bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSortedInt)
	if err != nil || !ok {
		return false, err
	}
	_, exists, err := d.store.Get(d.subkey(storage.ColumnSubkey, key, meta.Version, storage.EncodeFixed64(nil, id)))
	return exists, err
}
