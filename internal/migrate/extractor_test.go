package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// replayCommands runs every committed batch from seq through the extractor
// and flattens the output into printable argument vectors.
func replayCommands(t *testing.T, store *storage.Storage, ext *extractor, from uint64) [][]string {
	t.Helper()
	it, err := store.WALIterator(from)
	require.NoError(t, err)
	defer it.Close()

	var out [][]string
	for it.Next() {
		cmds, err := ext.commands(it.Batch())
		require.NoError(t, err)
		for _, c := range cmds {
			args := make([]string, len(c))
			for i, a := range c {
				args[i] = string(a)
			}
			out = append(out, args)
		}
	}
	require.NoError(t, it.Err())
	return out
}

func slotExtractor(key []byte) *extractor {
	return newExtractor([]byte(storage.DefaultNamespace), hash.KeySlot(string(key)), false, nil)
}

func TestExtractorString(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("greeting")

	require.NoError(t, d.Set(key, []byte("hello")))
	require.NoError(t, d.SetPXAT(key, []byte("bye"), 99999999999999))

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"SET", "greeting", "hello"},
		{"SET", "greeting", "bye"},
		{"PEXPIREAT", "greeting", "99999999999999"},
	}, cmds)
}

func TestExtractorSkipsOtherSlots(t *testing.T) {
	store, d := openTestDB(t)
	mine := []byte("k{a}")
	other := []byte("k{b}")
	require.NotEqual(t, hash.KeySlot(string(mine)), hash.KeySlot(string(other)))

	require.NoError(t, d.Set(mine, []byte("v1")))
	require.NoError(t, d.Set(other, []byte("v2")))

	cmds := replayCommands(t, store, slotExtractor(mine), 1)
	require.Equal(t, [][]string{{"SET", "k{a}", "v1"}}, cmds)
}

func TestExtractorHash(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("h")

	_, err := d.HSet(key, map[string][]byte{"f": []byte("v")})
	require.NoError(t, err)
	_, err = d.HDel(key, []byte("f"))
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"HSET", "h", "f", "v"},
		{"HDEL", "h", "f"},
		{"DEL", "h"}, // the empty hash drops its whole key
	}, cmds)
}

func TestExtractorLazyExpireNotReplayed(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("fleeting")

	require.NoError(t, d.SetPXAT(key, []byte("v"), 1))
	_, ok, err := d.Get(key)
	require.NoError(t, err)
	require.False(t, ok, "expired key must read as missing")

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"SET", "fleeting", "v"},
		{"PEXPIREAT", "fleeting", "1"},
	}, cmds, "the reclamation delete must not reach the destination")
}

func TestExtractorListPushInference(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("l")

	// Fresh create replays as one ascending RPUSH.
	_, err := d.RPush(key, []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)
	// Head-side batch replays as LPUSH.
	_, err = d.LPush(key, []byte("x"), []byte("y"))
	require.NoError(t, err)
	// Tail-side batch replays as RPUSH.
	_, err = d.RPush(key, []byte("z"))
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"RPUSH", "l", "a", "b", "c"},
		{"LPUSH", "l", "x", "y"},
		{"RPUSH", "l", "z"},
	}, cmds)
}

func TestExtractorListPops(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("l")

	_, err := d.RPush(key, []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)
	seqAfterPush := store.LatestSeq() + 1

	_, _, err = d.LPop(key)
	require.NoError(t, err)
	_, _, err = d.RPop(key)
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), seqAfterPush)
	require.Equal(t, [][]string{
		{"LPOP", "l"},
		{"RPOP", "l"},
	}, cmds)
}

func TestExtractorZSetAndSortedInt(t *testing.T) {
	store, d := openTestDB(t)
	zkey := []byte("ranked{a}")
	skey := []byte("ids{a}")

	_, err := d.ZAdd(zkey, map[string]float64{"m": 1.5})
	require.NoError(t, err)
	_, err = d.SIAdd(skey, 42)
	require.NoError(t, err)
	_, err = d.ZRem(zkey, []byte("m"))
	require.NoError(t, err)
	_, err = d.SIRem(skey, 42)
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(zkey), 1)
	require.Equal(t, [][]string{
		{"ZADD", "ranked{a}", "1.5", "m"},
		{"SIADD", "ids{a}", "42"},
		{"ZREM", "ranked{a}", "m"},
		{"DEL", "ranked{a}"},
		{"SIREM", "ids{a}", "42"},
		{"DEL", "ids{a}"},
	}, cmds)
}

func TestExtractorBitmapDiff(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("bits")

	_, err := d.SetBit(key, 9, true)
	require.NoError(t, err)
	_, err = d.SetBit(key, 9, false)
	require.NoError(t, err)
	_, err = d.SetBit(key, 8200, true) // second fragment
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"SETBIT", "bits", "9", "1"},
		{"SETBIT", "bits", "9", "0"},
		{"SETBIT", "bits", "8200", "1"},
	}, cmds, "only changed bits are re-sent")
}

func TestExtractorStreamSetIDTrailsAdds(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("events")

	id := storage.StreamID{Ms: 1700000000000, Seq: 7}
	_, err := d.XAdd(key, &id, [][]byte{[]byte("f"), []byte("v")})
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), 1)
	require.Equal(t, [][]string{
		{"XADD", "events", "1700000000000-7", "f", "v"},
		{"XSETID", "events", "1700000000000-7", "ENTRIESADDED", "1", "MAXDELETEDID", "0-0"},
	}, cmds, "generator state must land after the entry it accounts for")
}

func TestExtractorStreamDelete(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("events")

	id := storage.StreamID{Ms: 5, Seq: 1}
	_, err := d.XAdd(key, &id, [][]byte{[]byte("f"), []byte("v")})
	require.NoError(t, err)
	seqAfterAdd := store.LatestSeq() + 1

	_, err = d.XDel(key, id)
	require.NoError(t, err)

	cmds := replayCommands(t, store, slotExtractor(key), seqAfterAdd)
	require.Equal(t, [][]string{
		{"XDEL", "events", "5-1"},
		{"XSETID", "events", "5-1", "ENTRIESADDED", "1", "MAXDELETEDID", "5-1"},
	}, cmds)
}
