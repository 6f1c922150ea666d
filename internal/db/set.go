package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// SAdd inserts members, creating the set if needed. Returns the number newly
// added.
func (d *DB) SAdd(key []byte, members ...[]byte) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSet)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeSet, Version: d.newVersion()}
	}

	added := 0
	fresh := make([][]byte, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[string(m)] {
			continue
		}
		seen[string(m)] = true
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, m)
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

// SIsMember reports membership.
func (d *DB) SIsMember(key, member []byte) (bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSet)
	if err != nil || !ok {
		return false, err
	}
	_, exists, err := d.store.Get(d.subkey(storage.ColumnSubkey, key, meta.Version, member))
	return exists, err
}

// SRem removes members, deleting the set when it empties. Returns the number
// removed.
func (d *DB) SRem(key []byte, members ...[]byte) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeSet)
	if err != nil || !ok {
		return 0, err
	}
	var gone [][]byte
	for _, m := range members {
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, m)
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
