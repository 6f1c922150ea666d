package migrate

import (
	"fmt"
	"strconv"

	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// maxItemsPerCommand caps how many elements one reconstructed write command
// carries before the encoder starts a new command.
const maxItemsPerCommand = 16

// keyResult classifies the outcome of encoding one key.
type keyResult uint8

const (
	keyMigrated keyResult = iota
	keyExpired
	keyEmpty
)

// encoder rebuilds one key's value as write commands against the sink,
// reading elements from a pinned snapshot.
type encoder struct {
	sn   *storage.Snapshot
	ns   []byte
	slot uint16
	sink *sink
}

// encodeKey reconstructs a single key from its raw metadata record. Expired
// keys and complex keys with no surviving elements produce nothing.
func (e *encoder) encodeKey(userKey, rawMeta []byte) (keyResult, error) {
	meta, trailer, err := storage.DecodeMetadata(rawMeta)
	if err != nil {
		return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	if meta.Expired(storage.NowMs()) {
		return keyExpired, nil
	}

	switch meta.Type {
	case storage.TypeString:
		if err := e.sink.pushArgs([]byte("SET"), userKey, trailer); err != nil {
			return keyEmpty, err
		}
		return keyMigrated, e.pushExpire(userKey, meta.Expire)
	case storage.TypeList:
		return e.encodeList(userKey, meta)
	case storage.TypeHash, storage.TypeSet, storage.TypeZSet, storage.TypeSortedInt:
		return e.encodeElements(userKey, meta)
	case storage.TypeBitmap:
		return e.encodeBitmap(userKey, meta)
	case storage.TypeStream:
		return e.encodeStream(userKey, meta, trailer)
	default:
		return keyEmpty, fmt.Errorf("%w: unexpected value kind %d", ErrDBRead, meta.Type)
	}
}

func (e *encoder) pushExpire(userKey []byte, expire uint64) error {
	if expire == 0 {
		return nil
	}
	return e.sink.pushArgs(
		[]byte("PEXPIREAT"), userKey,
		[]byte(strconv.FormatUint(expire, 10)),
	)
}

func (e *encoder) elementPrefix(col byte, userKey []byte, version uint64) []byte {
	return storage.ComposeSubkeyPrefix(col, e.ns, e.slot, userKey, version)
}

// encodeElements handles the kinds whose rebuild command takes a flat
// element list: hash, set, zset and sortedint.
func (e *encoder) encodeElements(userKey []byte, meta storage.Metadata) (keyResult, error) {
	var cmd string
	switch meta.Type {
	case storage.TypeHash:
		cmd = "HMSET"
	case storage.TypeSet:
		cmd = "SADD"
	case storage.TypeZSet:
		cmd = "ZADD"
	case storage.TypeSortedInt:
		cmd = "SIADD"
	}

	it := e.sn.NewIterator(e.elementPrefix(storage.ColumnSubkey, userKey, meta.Version))
	defer it.Close()

	args := [][]byte{[]byte(cmd), userKey}
	items := 0
	flushCmd := func() error {
		if items == 0 {
			return nil
		}
		if err := e.sink.pushArgs(args...); err != nil {
			return err
		}
		args = args[:2]
		items = 0
		return nil
	}

	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if e.sink.isCanceled() {
			return keyEmpty, ErrCanceled
		}
		dec, err := storage.DecodeSubkey(it.Item().Key())
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		member := append([]byte(nil), dec.Subkey...)

		switch meta.Type {
		case storage.TypeHash:
			args = append(args, member, val)
		case storage.TypeSet:
			args = append(args, member)
		case storage.TypeZSet:
			score := storage.DecodeDouble(val)
			args = append(args, []byte(FormatScore(score)), member)
		case storage.TypeSortedInt:
			id := storage.DecodeFixed64(member)
			args = append(args, []byte(strconv.FormatUint(id, 10)))
		}
		items++
		count++
		if items >= maxItemsPerCommand {
			if err := flushCmd(); err != nil {
				return keyEmpty, err
			}
		}
	}
	if err := flushCmd(); err != nil {
		return keyEmpty, err
	}
	if count == 0 {
		return keyEmpty, nil
	}
	return keyMigrated, e.pushExpire(userKey, meta.Expire)
}

// encodeList replays elements head to tail as batched RPUSH commands.
func (e *encoder) encodeList(userKey []byte, meta storage.Metadata) (keyResult, error) {
	it := e.sn.NewIterator(e.elementPrefix(storage.ColumnSubkey, userKey, meta.Version))
	defer it.Close()

	args := [][]byte{[]byte("RPUSH"), userKey}
	items := 0
	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if e.sink.isCanceled() {
			return keyEmpty, ErrCanceled
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		args = append(args, val)
		items++
		count++
		if items >= maxItemsPerCommand {
			if err := e.sink.pushArgs(args...); err != nil {
				return keyEmpty, err
			}
			args = args[:2]
			items = 0
		}
	}
	if items > 0 {
		if err := e.sink.pushArgs(args...); err != nil {
			return keyEmpty, err
		}
	}
	if count == 0 {
		return keyEmpty, nil
	}
	return keyMigrated, e.pushExpire(userKey, meta.Expire)
}

// encodeBitmap replays every set bit as SETBIT. Fragment subkeys carry the
// decimal byte offset of the fragment start.
func (e *encoder) encodeBitmap(userKey []byte, meta storage.Metadata) (keyResult, error) {
	it := e.sn.NewIterator(e.elementPrefix(storage.ColumnSubkey, userKey, meta.Version))
	defer it.Close()

	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if e.sink.isCanceled() {
			return keyEmpty, ErrCanceled
		}
		dec, err := storage.DecodeSubkey(it.Item().Key())
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		fragStart, err := strconv.ParseUint(string(dec.Subkey), 10, 32)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: bad bitmap fragment offset %q", ErrDBRead, dec.Subkey)
		}
		frag, err := it.Item().ValueCopy(nil)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		for byteIdx, b := range frag {
			for bit := 0; bit < 8; bit++ {
				if b&(1<<(7-bit)) == 0 {
					continue
				}
				offset := (fragStart+uint64(byteIdx))*8 + uint64(bit)
				err := e.sink.pushArgs(
					[]byte("SETBIT"), userKey,
					[]byte(strconv.FormatUint(offset, 10)), []byte("1"),
				)
				if err != nil {
					return keyEmpty, err
				}
				count++
			}
		}
	}
	if count == 0 {
		return keyEmpty, nil
	}
	return keyMigrated, e.pushExpire(userKey, meta.Expire)
}

// encodeStream replays entries as XADD with explicit ids, then XSETID to
// restore the generator bookkeeping.
func (e *encoder) encodeStream(userKey []byte, meta storage.Metadata, trailer []byte) (keyResult, error) {
	st, err := storage.DecodeStreamTrailer(trailer)
	if err != nil {
		return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
	}

	it := e.sn.NewIterator(e.elementPrefix(storage.ColumnStream, userKey, meta.Version))
	defer it.Close()

	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if e.sink.isCanceled() {
			return keyEmpty, ErrCanceled
		}
		dec, err := storage.DecodeSubkey(it.Item().Key())
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		id, err := storage.DecodeStreamID(dec.Subkey)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		fields, err := storage.DecodeStreamEntryValue(val)
		if err != nil {
			return keyEmpty, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		args := [][]byte{[]byte("XADD"), userKey, []byte(id.String())}
		for _, f := range fields {
			args = append(args, f)
		}
		if err := e.sink.pushArgs(args...); err != nil {
			return keyEmpty, err
		}
		count++
	}
	if count == 0 && st.EntriesAdded == 0 {
		return keyEmpty, nil
	}
	err = e.sink.pushArgs(
		[]byte("XSETID"), userKey, []byte(st.LastID.String()),
		[]byte("ENTRIESADDED"), []byte(strconv.FormatUint(st.EntriesAdded, 10)),
		[]byte("MAXDELETEDID"), []byte(st.MaxDeletedID.String()),
	)
	if err != nil {
		return keyEmpty, err
	}
	return keyMigrated, e.pushExpire(userKey, meta.Expire)
}
