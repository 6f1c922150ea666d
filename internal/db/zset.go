package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// ZAdd upserts member scores, creating the zset if needed. Returns the
// number of newly added members.
func (d *DB) ZAdd(key []byte, scores map[string]float64) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeZSet)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeZSet, Version: d.newVersion()}
	}

	added := 0
	batch := storage.NewWriteBatch()
	type pending struct {
		sk    []byte
		score float64
	}
	var ups []pending
	for member, score := range scores {
		sk := d.subkey(storage.ColumnSubkey, key, meta.Version, []byte(member))
		exists := false
		if ok {
			if _, exists, err = d.store.Get(sk); err != nil {
				return 0, err
			}
		}
		if !exists {
			added++
		}
		ups = append(ups, pending{sk: sk, score: score})
	}
	meta.Size += uint32(added)

	batch.Put(d.metadataKey(key), meta.Encode(nil))
	for _, u := range ups {
		batch.Put(u.sk, storage.EncodeDouble(nil, u.score))
	}
	return added, d.write(key, batch)
}

// ZScore reads one member's score.
func (d *DB) ZScore(key, member []byte) (float64, bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeZSet)
	if err != nil || !ok {
		return 0, false, err
	}
	val, exists, err := d.store.Get(d.subkey(storage.ColumnSubkey, key, meta.Version, member))
	if err != nil || !exists {
		return 0, false, err
	}
	return storage.DecodeDouble(val), true, nil
}

// ZRem removes members, deleting the zset when it empties. Returns the
// number removed.
func (d *DB) ZRem(key []byte, members ...[]byte) (int, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeZSet)
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
