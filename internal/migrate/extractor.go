package migrate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// extractor turns committed write batches back into the commands that would
// reproduce them, filtered to one slot. Value kinds are learned from the
// metadata entry each batch stages ahead of its element mutations, and
// remembered across batches for the replay session.
type extractor struct {
	ns   []byte
	slot uint16

	// forReplication controls whether reclamation deletes are replayed.
	// A migration destination must not see them: the key may still be live
	// there under a fresher expiry written after the snapshot.
	forReplication bool

	// prevFragment reads a bitmap fragment as the destination last saw it,
	// so only changed bits are re-sent. Nil disables the diff and whole
	// fragments are replayed bit by bit.
	prevFragment func(fragKey []byte) ([]byte, bool, error)

	kinds     map[string]storage.RedisType
	listMeta  map[string]storage.ListTrailer
	fragCache map[string][]byte
}

func newExtractor(ns []byte, slot uint16, forReplication bool, prevFragment func([]byte) ([]byte, bool, error)) *extractor {
	return &extractor{
		ns:             ns,
		slot:           slot,
		forReplication: forReplication,
		prevFragment:   prevFragment,
		kinds:          make(map[string]storage.RedisType),
		listMeta:       make(map[string]storage.ListTrailer),
		fragCache:      make(map[string][]byte),
	}
}

type listPut struct {
	index uint64
	value []byte
}

// commands decodes one batch into replay commands in apply order.
func (x *extractor) commands(wb *storage.WALBatch) ([][][]byte, error) {
	lazyExpire := wb.Batch.Flags&storage.WALFlagLazyExpire != 0
	var out [][][]byte

	// List pushes need the whole batch before they can be ordered, and
	// stream bookkeeping must trail the XADDs it accounts for.
	listPuts := make(map[string][]listPut)
	listPops := make(map[string][]uint64)
	var streamSetIDs [][][]byte

	for _, entry := range wb.Batch.Entries {
		if len(entry.Key) == 0 {
			return nil, fmt.Errorf("%w: empty key in batch %d", ErrDBRead, wb.Seq)
		}
		switch entry.Key[0] {
		case storage.ColumnMetadata:
			cmds, setID, err := x.metadataEntry(entry, lazyExpire)
			if err != nil {
				return nil, err
			}
			out = append(out, cmds...)
			if setID != nil {
				streamSetIDs = append(streamSetIDs, setID)
			}
		case storage.ColumnSubkey, storage.ColumnStream:
			cmds, err := x.elementEntry(entry, listPuts, listPops)
			if err != nil {
				return nil, err
			}
			out = append(out, cmds...)
		case storage.ColumnWAL:
			// Not staged by any writer.
		default:
			return nil, fmt.Errorf("%w: unknown column %q in batch %d", ErrDBRead, entry.Key[0], wb.Seq)
		}
	}

	for key, puts := range listPuts {
		out = append(out, x.listPushCommands([]byte(key), puts)...)
	}
	for key, pops := range listPops {
		out = append(out, x.listPopCommands([]byte(key), pops)...)
	}
	out = append(out, streamSetIDs...)
	return out, nil
}

func (x *extractor) metadataEntry(entry storage.BatchEntry, lazyExpire bool) (cmds [][][]byte, streamSetID [][]byte, err error) {
	ns, slot, userKey, err := storage.DecodeMetadataKey(entry.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	if slot != x.slot || string(ns) != string(x.ns) {
		return nil, nil, nil
	}
	key := append([]byte(nil), userKey...)

	if entry.Op == storage.OpDelete {
		if lazyExpire && !x.forReplication {
			return nil, nil, nil
		}
		return [][][]byte{{[]byte("DEL"), key}}, nil, nil
	}

	meta, trailer, err := storage.DecodeMetadata(entry.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	x.kinds[string(key)] = meta.Type

	var out [][][]byte
	switch meta.Type {
	case storage.TypeString:
		out = append(out, [][]byte{[]byte("SET"), key, append([]byte(nil), trailer...)})
	case storage.TypeList:
		lt, err := storage.DecodeListTrailer(trailer)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		x.listMeta[string(key)] = lt
	case storage.TypeStream:
		st, err := storage.DecodeStreamTrailer(trailer)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		streamSetID = [][]byte{
			[]byte("XSETID"), key, []byte(st.LastID.String()),
			[]byte("ENTRIESADDED"), []byte(strconv.FormatUint(st.EntriesAdded, 10)),
			[]byte("MAXDELETEDID"), []byte(st.MaxDeletedID.String()),
		}
	}
	if meta.Expire > 0 {
		out = append(out, [][]byte{
			[]byte("PEXPIREAT"), key,
			[]byte(strconv.FormatUint(meta.Expire, 10)),
		})
	}
	return out, streamSetID, nil
}

func (x *extractor) elementEntry(entry storage.BatchEntry, listPuts map[string][]listPut, listPops map[string][]uint64) ([][][]byte, error) {
	dec, err := storage.DecodeSubkey(entry.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	if dec.Slot != x.slot || string(dec.Namespace) != string(x.ns) {
		return nil, nil
	}
	key := append([]byte(nil), dec.Key...)
	sub := append([]byte(nil), dec.Subkey...)

	if entry.Key[0] == storage.ColumnStream {
		return x.streamEntry(entry, key, sub)
	}

	kind, ok := x.kinds[string(key)]
	if !ok {
		return nil, fmt.Errorf("%w: element for %q with unknown kind in batch", ErrDBRead, key)
	}

	switch kind {
	case storage.TypeHash:
		if entry.Op == storage.OpDelete {
			return [][][]byte{{[]byte("HDEL"), key, sub}}, nil
		}
		return [][][]byte{{[]byte("HSET"), key, sub, append([]byte(nil), entry.Value...)}}, nil
	case storage.TypeSet:
		if entry.Op == storage.OpDelete {
			return [][][]byte{{[]byte("SREM"), key, sub}}, nil
		}
		return [][][]byte{{[]byte("SADD"), key, sub}}, nil
	case storage.TypeZSet:
		if entry.Op == storage.OpDelete {
			return [][][]byte{{[]byte("ZREM"), key, sub}}, nil
		}
		score := storage.DecodeDouble(entry.Value)
		return [][][]byte{{[]byte("ZADD"), key, []byte(FormatScore(score)), sub}}, nil
	case storage.TypeSortedInt:
		id := strconv.FormatUint(storage.DecodeFixed64(sub), 10)
		if entry.Op == storage.OpDelete {
			return [][][]byte{{[]byte("SIREM"), key, []byte(id)}}, nil
		}
		return [][][]byte{{[]byte("SIADD"), key, []byte(id)}}, nil
	case storage.TypeList:
		idx := storage.DecodeFixed64(sub)
		if entry.Op == storage.OpDelete {
			listPops[string(key)] = append(listPops[string(key)], idx)
			return nil, nil
		}
		listPuts[string(key)] = append(listPuts[string(key)], listPut{index: idx, value: append([]byte(nil), entry.Value...)})
		return nil, nil
	case storage.TypeBitmap:
		return x.bitmapEntry(entry, key, sub)
	default:
		return nil, fmt.Errorf("%w: element for %q of kind %s", ErrDBRead, key, kind)
	}
}

func (x *extractor) streamEntry(entry storage.BatchEntry, key, sub []byte) ([][][]byte, error) {
	id, err := storage.DecodeStreamID(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	if entry.Op == storage.OpDelete {
		return [][][]byte{{[]byte("XDEL"), key, []byte(id.String())}}, nil
	}
	fields, err := storage.DecodeStreamEntryValue(entry.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	args := [][]byte{[]byte("XADD"), key, []byte(id.String())}
	for _, f := range fields {
		args = append(args, append([]byte(nil), f...))
	}
	return [][][]byte{args}, nil
}

// bitmapEntry diffs the written fragment against what the destination last
// saw and replays only the changed bits.
func (x *extractor) bitmapEntry(entry storage.BatchEntry, key, sub []byte) ([][][]byte, error) {
	fragStart, err := strconv.ParseUint(string(sub), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad bitmap fragment offset %q", ErrDBRead, sub)
	}
	cacheKey := string(entry.Key)
	old, cached := x.fragCache[cacheKey]
	if !cached && x.prevFragment != nil {
		if prev, ok, err := x.prevFragment(entry.Key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDBRead, err)
		} else if ok {
			old = prev
		}
	}
	cur := entry.Value
	if entry.Op == storage.OpDelete {
		cur = nil
	}
	x.fragCache[cacheKey] = append([]byte(nil), cur...)

	var out [][][]byte
	n := len(cur)
	if len(old) > n {
		n = len(old)
	}
	for i := 0; i < n; i++ {
		var ob, cb byte
		if i < len(old) {
			ob = old[i]
		}
		if i < len(cur) {
			cb = cur[i]
		}
		if ob == cb {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			mask := byte(1) << (7 - bit)
			if ob&mask == cb&mask {
				continue
			}
			val := "0"
			if cb&mask != 0 {
				val = "1"
			}
			offset := (fragStart+uint64(i))*8 + uint64(bit)
			out = append(out, [][]byte{
				[]byte("SETBIT"), key,
				[]byte(strconv.FormatUint(offset, 10)), []byte(val),
			})
		}
	}
	return out, nil
}

// listPushCommands reorders one batch's pushes into LPUSH/RPUSH. A batch
// pushes at a single end, so the index run either extends the head downward
// or the tail upward; a run spanning the entire list is a fresh create and
// replays as one ascending RPUSH.
func (x *extractor) listPushCommands(key []byte, puts []listPut) [][][]byte {
	sort.Slice(puts, func(i, j int) bool { return puts[i].index < puts[j].index })
	lt := x.listMeta[string(key)]

	wholeList := puts[0].index == lt.Head && puts[len(puts)-1].index == lt.Tail-1
	headSide := !wholeList && puts[0].index == lt.Head

	var out [][][]byte
	if headSide {
		// Descending order so the lowest index ends up at the head.
		args := [][]byte{[]byte("LPUSH"), key}
		for i := len(puts) - 1; i >= 0; i-- {
			args = append(args, puts[i].value)
		}
		out = append(out, args)
		return out
	}
	args := [][]byte{[]byte("RPUSH"), key}
	for _, p := range puts {
		args = append(args, p.value)
	}
	return append(out, args)
}

// listPopCommands turns one batch's element deletes into LPOP/RPOP against
// the post-batch cursors.
func (x *extractor) listPopCommands(key []byte, pops []uint64) [][][]byte {
	lt := x.listMeta[string(key)]
	var out [][][]byte
	for _, idx := range pops {
		if idx < lt.Head {
			out = append(out, [][]byte{[]byte("LPOP"), key})
		} else {
			out = append(out, [][]byte{[]byte("RPOP"), key})
		}
	}
	return out
}
