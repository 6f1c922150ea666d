package db

import (
	"errors"

	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// ErrStreamIDNotGreater is returned when an explicit XADD id does not exceed
// the stream's last generated id.
var ErrStreamIDNotGreater = errors.New("the ID specified in XADD is equal or smaller than the target stream top item")

func (d *DB) streamMeta(key []byte) (storage.Metadata, storage.StreamTrailer, bool, error) {
	meta, trailer, ok, err := d.getMetadata(key, storage.TypeStream)
	if err != nil || !ok {
		return storage.Metadata{}, storage.StreamTrailer{}, false, err
	}
	st, err := storage.DecodeStreamTrailer(trailer)
	if err != nil {
		return storage.Metadata{}, storage.StreamTrailer{}, false, err
	}
	return meta, st, true, nil
}

// XAdd appends an entry. A nil id auto-generates one from the wall clock;
// an explicit id must exceed the last generated id. fields alternates field
// and value strings. Returns the entry id.
func (d *DB) XAdd(key []byte, id *storage.StreamID, fields [][]byte) (storage.StreamID, error) {
	meta, st, ok, err := d.streamMeta(key)
	if err != nil {
		return storage.StreamID{}, err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeStream, Version: d.newVersion()}
		st = storage.StreamTrailer{}
	}

	var entryID storage.StreamID
	if id != nil {
		entryID = *id
		if entryID.Ms < st.LastID.Ms ||
			(entryID.Ms == st.LastID.Ms && entryID.Seq <= st.LastID.Seq && (st.LastID.Ms != 0 || st.LastID.Seq != 0)) {
			return storage.StreamID{}, ErrStreamIDNotGreater
		}
	} else {
		now := storage.NowMs()
		entryID = storage.StreamID{Ms: now}
		if now <= st.LastID.Ms {
			entryID = storage.StreamID{Ms: st.LastID.Ms, Seq: st.LastID.Seq + 1}
		}
	}

	st.LastID = entryID
	st.EntriesAdded++
	meta.Size++

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(storage.EncodeStreamTrailer(st)))
	batch.Put(
		d.subkey(storage.ColumnStream, key, meta.Version, entryID.Encode(nil)),
		storage.EncodeStreamEntryValue(fields),
	)
	return entryID, d.write(key, batch)
}

// XSetID overwrites the stream's generator bookkeeping, creating an empty
// stream when the key does not exist.
func (d *DB) XSetID(key []byte, last storage.StreamID, entriesAdded uint64, maxDeleted storage.StreamID) error {
	meta, st, ok, err := d.streamMeta(key)
	if err != nil {
		return err
	}
	if !ok {
		meta = storage.Metadata{Type: storage.TypeStream, Version: d.newVersion()}
		st = storage.StreamTrailer{}
	}
	st.LastID = last
	st.EntriesAdded = entriesAdded
	st.MaxDeletedID = maxDeleted

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(storage.EncodeStreamTrailer(st)))
	return d.write(key, batch)
}

// XDel removes entries by id. Returns the number removed.
func (d *DB) XDel(key []byte, ids ...storage.StreamID) (int, error) {
	meta, st, ok, err := d.streamMeta(key)
	if err != nil || !ok {
		return 0, err
	}
	var gone []storage.StreamID
	for _, id := range ids {
		sk := d.subkey(storage.ColumnStream, key, meta.Version, id.Encode(nil))
		if _, exists, err := d.store.Get(sk); err != nil {
			return 0, err
		} else if exists {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	meta.Size -= uint32(len(gone))
	for _, id := range gone {
		if id.Ms > st.MaxDeletedID.Ms || (id.Ms == st.MaxDeletedID.Ms && id.Seq > st.MaxDeletedID.Seq) {
			st.MaxDeletedID = id
		}
	}

	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(storage.EncodeStreamTrailer(st)))
	for _, id := range gone {
		batch.Delete(d.subkey(storage.ColumnStream, key, meta.Version, id.Encode(nil)))
	}
	return len(gone), d.write(key, batch)
}

// XLen returns the number of live entries.
func (d *DB) XLen(key []byte) (int, error) {
	meta, _, ok, err := d.streamMeta(key)
	if err != nil || !ok {
		return 0, err
	}
	return int(meta.Size), nil
}

// XRangeAll returns every live entry in id order.
func (d *DB) XRangeAll(key []byte) ([]storage.StreamID, [][][]byte, error) {
	meta, _, ok, err := d.streamMeta(key)
	if err != nil || !ok {
		return nil, nil, err
	}
	sn, err := d.store.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	defer sn.Release()

	prefix := storage.ComposeSubkeyPrefix(storage.ColumnStream, d.ns, slotOf(key), key, meta.Version)
	it := sn.NewIterator(prefix)
	defer it.Close()

	var ids []storage.StreamID
	var entries [][][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		dec, err := storage.DecodeSubkey(it.Item().Key())
		if err != nil {
			return nil, nil, err
		}
		id, err := storage.DecodeStreamID(dec.Subkey)
		if err != nil {
			return nil, nil, err
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		fields, err := storage.DecodeStreamEntryValue(val)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		entries = append(entries, fields)
	}
	return ids, entries, nil
}
