package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

func TestScanSlot(t *testing.T) {
	store, d := openTestDB(t)
	slot := hash.KeySlot("x")

	require.NoError(t, d.Set([]byte("live{x}"), []byte("v")))
	require.NoError(t, d.SetPXAT([]byte("gone{x}"), []byte("v"), 1))
	_, err := d.HSet([]byte("h{x}"), map[string][]byte{"f": []byte("v")})
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("elsewhere{y}"), []byte("v")))

	// Orphaned metadata with no elements behind it counts as empty.
	ns := []byte(storage.DefaultNamespace)
	orphan := storage.Metadata{Type: storage.TypeHash, Version: 1}
	batch := storage.NewWriteBatch()
	batch.Put(storage.EncodeMetadataKey(ns, slot, []byte("husk{x}")), orphan.Encode(nil))
	_, err = store.Write(batch)
	require.NoError(t, err)

	sn, err := store.Snapshot()
	require.NoError(t, err)
	defer sn.Release()

	rec := newRecorder(t)
	sk := dialSink(t, rec, 16, nil)

	stats, err := scanSlot(sn, ns, slot, sk, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.Migrated)
	require.Equal(t, uint64(1), stats.Expired)
	require.Equal(t, uint64(1), stats.Empty)

	require.Eventually(t, func() bool { return len(rec.commands()) >= 2 }, time.Second, 10*time.Millisecond)
	var keys []string
	for _, c := range rec.commands() {
		keys = append(keys, c[1])
	}
	require.NotContains(t, keys, "elsewhere{y}")
	require.NotContains(t, keys, "gone{x}")
	require.Contains(t, keys, "live{x}")
	require.Contains(t, keys, "h{x}")
}

func TestEncodeElementsBatchesAtSixteen(t *testing.T) {
	store, d := openTestDB(t)
	key := []byte("big{x}")

	members := make([][]byte, 20)
	for i := range members {
		members[i] = []byte{'m', byte('a' + i)}
	}
	_, err := d.SAdd(key, members...)
	require.NoError(t, err)

	sn, err := store.Snapshot()
	require.NoError(t, err)
	defer sn.Release()

	rec := newRecorder(t)
	sk := dialSink(t, rec, 64, nil)

	_, err = scanSlot(sn, []byte(storage.DefaultNamespace), hash.KeySlot("x"), sk, zap.NewNop())
	require.NoError(t, err)

	var sadds [][]string
	for _, c := range rec.commands() {
		if c[0] == "SADD" {
			sadds = append(sadds, c)
		}
	}
	require.Len(t, sadds, 2, "20 members split across two commands")
	require.Len(t, sadds[0], 2+16)
	require.Len(t, sadds[1], 2+4)
}
