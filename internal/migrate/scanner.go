package migrate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// scanStats tallies the bulk phase.
type scanStats struct {
	Migrated uint64
	Expired  uint64
	Empty    uint64
}

// scanSlot walks every key of the slot in the pinned snapshot, rebuilding
// each through the encoder, and force-flushes whatever remains buffered at
// the end.
func scanSlot(sn *storage.Snapshot, ns []byte, slot uint16, sk *sink, logger *zap.Logger) (scanStats, error) {
	var stats scanStats
	enc := &encoder{sn: sn, ns: ns, slot: slot, sink: sk}

	prefix := storage.ComposeSlotKeyPrefix(ns, slot)
	it := sn.NewIterator(prefix)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if sk.isCanceled() {
			return stats, ErrCanceled
		}
		_, _, userKey, err := storage.DecodeMetadataKey(it.Item().Key())
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		rawMeta, err := it.Item().ValueCopy(nil)
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrDBRead, err)
		}
		key := append([]byte(nil), userKey...)
		res, err := enc.encodeKey(key, rawMeta)
		if err != nil {
			return stats, err
		}
		switch res {
		case keyMigrated:
			stats.Migrated++
		case keyExpired:
			stats.Expired++
		case keyEmpty:
			stats.Empty++
		}
	}
	if err := sk.flush(true); err != nil {
		return stats, err
	}
	logger.Info("slot snapshot scan finished",
		zap.Uint16("slot", slot),
		zap.Uint64("snapshot_seq", sn.Seq),
		zap.Uint64("migrated_keys", stats.Migrated),
		zap.Uint64("expired_keys", stats.Expired),
		zap.Uint64("empty_keys", stats.Empty))
	return stats, nil
}
