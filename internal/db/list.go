package db

import "github.com/bruceqiwang/incubator-kvrocks/internal/storage"

// Lists store elements at u64 indexes in [head, tail); head and tail are the
// metadata trailer. A fresh list starts both cursors at the midpoint of the
// index space so pushes on either end never wrap.

const listStartIndex = uint64(1) << 63

func (d *DB) listMeta(key []byte) (storage.Metadata, storage.ListTrailer, bool, error) {
	meta, trailer, ok, err := d.getMetadata(key, storage.TypeList)
	if err != nil || !ok {
		return storage.Metadata{}, storage.ListTrailer{}, false, err
	}
	lt, err := storage.DecodeListTrailer(trailer)
	if err != nil {
		return storage.Metadata{}, storage.ListTrailer{}, false, err
	}
	return meta, lt, true, nil
}

func listIndexKey(index uint64) []byte {
	return storage.EncodeFixed64(nil, index)
}

func (d *DB) listPush(key []byte, elems [][]byte, left bool) (int, error) {
	meta, lt, ok, err := d.listMeta(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeList, Version: d.newVersion()}
		lt = storage.ListTrailer{Head: listStartIndex, Tail: listStartIndex}
	}

	batch := storage.NewWriteBatch()
	var entries []storage.BatchEntry
	for _, e := range elems {
		var idx uint64
		if left {
			lt.Head--
			idx = lt.Head
		} else {
			idx = lt.Tail
			lt.Tail++
		}
		entries = append(entries, storage.BatchEntry{
			Op:    storage.OpPut,
			Key:   d.subkey(storage.ColumnSubkey, key, meta.Version, listIndexKey(idx)),
			Value: e,
		})
	}
	meta.Size += uint32(len(elems))
	batch.Put(d.metadataKey(key), meta.Encode(storage.EncodeListTrailer(lt)))
	batch.Entries = append(batch.Entries, entries...)
	return int(meta.Size), d.write(key, batch)
}

// RPush appends elements to the tail. Returns the resulting length.
func (d *DB) RPush(key []byte, elems ...[]byte) (int, error) {
	return d.listPush(key, elems, false)
}

// LPush prepends elements at the head. Returns the resulting length.
func (d *DB) LPush(key []byte, elems ...[]byte) (int, error) {
	return d.listPush(key, elems, true)
}

func (d *DB) listPop(key []byte, left bool) ([]byte, bool, error) {
	meta, lt, ok, err := d.listMeta(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if lt.Head >= lt.Tail {
		return nil, false, nil
	}
	var idx uint64
	if left {
		idx = lt.Head
		lt.Head++
	} else {
		lt.Tail--
		idx = lt.Tail
	}
	sk := d.subkey(storage.ColumnSubkey, key, meta.Version, listIndexKey(idx))
	val, _, err := d.store.Get(sk)
	if err != nil {
		return nil, false, err
	}
	meta.Size--

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(storage.EncodeListTrailer(lt)))
	batch.Delete(sk)
	if meta.Size == 0 {
		batch.Delete(d.metadataKey(key))
	}
	return val, true, d.write(key, batch)
}

// LPop removes and returns the head element.
func (d *DB) LPop(key []byte) ([]byte, bool, error) {
	return d.listPop(key, true)
}

// RPop removes and returns the tail element.
func (d *DB) RPop(key []byte) ([]byte, bool, error) {
	return d.listPop(key, false)
}

// LLen returns the list length.
func (d *DB) LLen(key []byte) (int, error) {
	meta, _, ok, err := d.listMeta(key)
	if err != nil || !ok {
		return 0, err
	}
	return int(meta.Size), nil
}

// LIndex reads the element at a zero-based offset from the head.
func (d *DB) LIndex(key []byte, offset int) ([]byte, bool, error) {
	meta, lt, ok, err := d.listMeta(key)
	if err != nil || !ok {
		return nil, false, err
	}
	idx := lt.Head + uint64(offset)
	if idx >= lt.Tail {
		return nil, false, nil
	}
	return d.store.Get(d.subkey(storage.ColumnSubkey, key, meta.Version, listIndexKey(idx)))
}
