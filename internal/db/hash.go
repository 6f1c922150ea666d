package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// HSet writes field/value pairs, creating the hash if needed. Returns the
// number of newly added fields.
func (d *DB) HSet(key []byte, pairs map[string][]byte) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeHash, Version: d.newVersion()}
	}

	added := 0
	subkeys := make([][]byte, 0, len(pairs))
	values := make([][]byte, 0, len(pairs))
	for field, value := range pairs {
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, []byte(field))
		exists := false
		if ok {
			if _, exists, err = d.store.Get(sk); err != nil {
				return 0, err
			}
		}
		if !exists {
			added++
		}
		subkeys = append(subkeys, sk)
		values = append(values, value)
	}
	meta.Size += uint32(added)

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(nil))
	for i, sk := range subkeys {
		batch.Put(sk, values[i])
	}
	return added, d.write(key, batch)
}

// HGet reads one field.
func (d *DB) HGet(key, field []byte) ([]byte, bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeHash)
	if err != nil || !ok {
		return nil, false, err
	}
	return d.store.Get(d.subkey(storage.ColumnSubkey, key, meta.Version, field))
}

// HDel removes fields, deleting the hash when it empties. Returns the number
// removed.
func (d *DB) HDel(key []byte, fields ...[]byte) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeHash)
	if err != nil || !ok {
		return 0, err
	}
	var gone [][]byte
	for _, field := range fields {
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, field)
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
