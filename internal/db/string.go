package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// Set stores a string value, clearing any previous expiry.
func (d *DB) Set(key, value []byte) error {
	meta := storage.Metadata{Type: storage.TypeString}
	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(value))
	return d.write(key, batch)
}

// SetPXAT stores a string value with an absolute expiry in ms.
func (d *DB) SetPXAT(key, value []byte, expireMs uint64) error {
	meta := storage.Metadata{Type: storage.TypeString, Expire: expireMs}
	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(value))
	return d.write(key, batch)
}

// Get returns the string value, or ok=false when the key is absent or
// expired.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	_, trailer, ok, err := d.getMetadata(key, storage.TypeString)
	if err != nil || !ok {
		return nil, false, err
	}
	return trailer, true, nil
}
