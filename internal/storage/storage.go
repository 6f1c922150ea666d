package storage

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("storage: closed")

// Options configures the store.
type Options struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Storage wraps a badger DB opened in managed mode. Commit timestamps are the
// write-batch sequence numbers, so a transaction read at sequence S observes
// exactly the batches with first sequence <= S.
type Storage struct {
	mu     sync.Mutex // guards db pointer and closed state
	db     *badger.DB
	closed bool
	logger *zap.Logger

	writeMu sync.Mutex // serializes Write so sequences stay dense
	lastSeq atomic.Uint64

	// latch is the exclusivity lock: client writes run under RLock, the
	// migration cutover takes Lock to drain them.
	latch sync.RWMutex
}

// Open opens (or creates) the store at opts.Dir.
func Open(opts Options) (*Storage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	db, err := badger.OpenManaged(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	s := &Storage{db: db, logger: logger}
	if err := s.recoverLastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("storage opened",
		zap.String("dir", opts.Dir),
		zap.Uint64("last_seq", s.lastSeq.Load()))
	return s, nil
}

// recoverLastSeq scans the WAL column backwards for the newest batch and
// restores the sequence counter past it.
func (s *Storage) recoverLastSeq() error {
	txn := s.db.NewTransactionAt(math.MaxUint64, false)
	defer txn.Discard()

	it := txn.NewIterator(badger.IteratorOptions{
		Reverse: true,
		Prefix:  []byte{ColumnWAL},
	})
	defer it.Close()

	// Seek past every possible WAL key, then step back to the last one.
	it.Seek(walKey(math.MaxUint64))
	if !it.Valid() {
		return nil
	}
	seq := walSeqFromKey(it.Item().Key())
	var count uint64
	err := it.Item().Value(func(v []byte) error {
		w, err := DecodeWALRecord(v)
		if err != nil {
			return err
		}
		count = uint64(w.Count())
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover sequence from wal: %w", err)
	}
	s.lastSeq.Store(seq + count - 1)
	return nil
}

// DB returns the underlying handle. Callers must re-fetch it after any
// close/reopen instead of caching the pointer.
func (s *Storage) DB() (*badger.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// LatestSeq returns the sequence of the newest committed entry.
func (s *Storage) LatestSeq() uint64 {
	return s.lastSeq.Load()
}

// Write commits the batch atomically together with its WAL record. A batch of
// N entries occupies sequences [seq, seq+N); the returned value is the first.
func (s *Storage) Write(batch *WriteBatch) (uint64, error) {
	if batch.Count() == 0 {
		return 0, errors.New("storage: empty batch")
	}
	db, err := s.DB()
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	seq := s.lastSeq.Load() + 1
	txn := db.NewTransactionAt(math.MaxUint64, true)
	defer txn.Discard()

	for _, e := range batch.Entries {
		if e.Op == OpDelete {
			err = txn.Delete(e.Key)
		} else {
			err = txn.Set(e.Key, e.Value)
		}
		if err != nil {
			return 0, fmt.Errorf("stage batch entry: %w", err)
		}
	}
	if err := txn.Set(walKey(seq), EncodeWALRecord(batch)); err != nil {
		return 0, fmt.Errorf("stage wal record: %w", err)
	}
	if err := txn.CommitAt(seq, nil); err != nil {
		return 0, fmt.Errorf("commit batch at %d: %w", seq, err)
	}
	s.lastSeq.Store(seq + uint64(batch.Count()) - 1)
	return seq, nil
}

// Snapshot is a consistent read view pinned at a sequence.
type Snapshot struct {
	Seq uint64
	txn *badger.Txn
}

// Snapshot pins a read view at the current latest sequence. The caller must
// Release it.
func (s *Storage) Snapshot() (*Snapshot, error) {
	db, err := s.DB()
	if err != nil {
		return nil, err
	}
	seq := s.lastSeq.Load()
	return &Snapshot{Seq: seq, txn: db.NewTransactionAt(seq, false)}, nil
}

// Get reads a key from the snapshot. Missing keys return (nil, false, nil).
func (sn *Snapshot) Get(key []byte) ([]byte, bool, error) {
	item, err := sn.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// NewIterator returns a forward iterator over keys with the prefix. Close it
// before releasing the snapshot.
func (sn *Snapshot) NewIterator(prefix []byte) *badger.Iterator {
	return sn.txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   64,
		Prefix:         prefix,
	})
}

// Release discards the snapshot's transaction. Safe to call more than once.
func (sn *Snapshot) Release() {
	if sn.txn != nil {
		sn.txn.Discard()
		sn.txn = nil
	}
}

// Get reads a key at the latest sequence, outside any snapshot.
func (s *Storage) Get(key []byte) ([]byte, bool, error) {
	sn, err := s.Snapshot()
	if err != nil {
		return nil, false, err
	}
	defer sn.Release()
	return sn.Get(key)
}

// RLockWrites takes the shared side of the exclusivity latch. Every client
// write path holds this across its read-modify-write.
func (s *Storage) RLockWrites() { s.latch.RLock() }

// RUnlockWrites releases the shared side.
func (s *Storage) RUnlockWrites() { s.latch.RUnlock() }

// LockWrites drains and blocks all client writes. The migration cutover holds
// this while it marks the slot forbidden.
func (s *Storage) LockWrites() { s.latch.Lock() }

// UnlockWrites releases the exclusive side.
func (s *Storage) UnlockWrites() { s.latch.Unlock() }

// Close shuts the store down. Further operations return ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	s.logger.Info("storage closed")
	return err
}
