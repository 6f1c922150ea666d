package migrate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/metrics"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// maxCatchUpRounds bounds the pre-cutover replay loop. If the source keeps
// outrunning the replay for this many rounds the migration gives up instead
// of blocking writes for an unbounded cutover.
const maxCatchUpRounds = 10

// tailer streams committed batches after the snapshot point to the
// destination, then performs the write-blocked cutover once the remaining
// gap is small.
type tailer struct {
	store       *storage.Storage
	ext         *extractor
	sink        *sink
	seqGapLimit uint64
	nextSeq     uint64
	logger      *zap.Logger

	batches uint64
}

func newTailer(store *storage.Storage, ext *extractor, sk *sink, startSeq, seqGapLimit uint64, logger *zap.Logger) *tailer {
	return &tailer{
		store:       store,
		ext:         ext,
		sink:        sk,
		seqGapLimit: seqGapLimit,
		nextSeq:     startSeq,
		logger:      logger,
	}
}

// pending returns how many committed entries have not been replayed yet.
func (t *tailer) pending() uint64 {
	latest := t.store.LatestSeq()
	if latest < t.nextSeq {
		return 0
	}
	return latest - t.nextSeq + 1
}

// catchUp replays every available batch from nextSeq and force-flushes the
// sink. A batch arriving at any sequence other than the expected one means
// log records were lost and the incremental phase cannot continue.
func (t *tailer) catchUp() error {
	it, err := t.store.WALIterator(t.nextSeq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	defer it.Close()

	for it.Next() {
		wb := it.Batch()
		if wb.Seq != t.nextSeq {
			return fmt.Errorf("%w: expected batch at %d, found %d", ErrDiscontinuity, t.nextSeq, wb.Seq)
		}
		cmds, err := t.ext.commands(wb)
		if err != nil {
			return err
		}
		for _, args := range cmds {
			if err := t.sink.pushArgs(args...); err != nil {
				return err
			}
		}
		t.nextSeq = wb.NextSeq()
		t.batches++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDBRead, err)
	}
	return t.sink.flush(true)
}

// syncWAL runs the two-phase catch-up. Phase one loops until the unreplayed
// tail is at most seqGapLimit entries. Phase two blocks writes just long
// enough to flip the slot read-only via forbid, then drains the final tail,
// which can no longer grow.
func (t *tailer) syncWAL(forbid func()) error {
	rounds := 0
	for {
		gap := t.pending()
		metrics.WALLag.Set(float64(gap))
		if gap <= t.seqGapLimit {
			break
		}
		if rounds >= maxCatchUpRounds {
			return fmt.Errorf("wal gap still %d entries after %d catch-up rounds", gap, rounds)
		}
		t.logger.Debug("wal catch-up round",
			zap.Int("round", rounds),
			zap.Uint64("gap", gap))
		if err := t.catchUp(); err != nil {
			return err
		}
		rounds++
	}

	t.store.LockWrites()
	forbid()
	t.store.UnlockWrites()

	if err := t.catchUp(); err != nil {
		return err
	}
	metrics.WALLag.Set(0)
	t.logger.Info("wal replay complete",
		zap.Uint64("next_seq", t.nextSeq),
		zap.Uint64("batches", t.batches),
		zap.Int("catch_up_rounds", rounds))
	return nil
}
