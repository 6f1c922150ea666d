package storage

import (
	"fmt"
	"math"

	badger "github.com/dgraph-io/badger/v4"
)

// WALBatch is one replayed write batch with its first sequence.
type WALBatch struct {
	Seq   uint64
	Batch *WriteBatch
}

// NextSeq returns the sequence the batch after this one starts at.
func (b *WALBatch) NextSeq() uint64 {
	return b.Seq + uint64(b.Batch.Count())
}

// WALIterator replays committed batches in sequence order. It reads at the
// maximum timestamp so it always sees every committed WAL record; gap
// detection between batches is left to the caller.
type WALIterator struct {
	txn *badger.Txn
	it  *badger.Iterator
	cur *WALBatch
	err error
}

// WALIterator positions a new iterator at the first batch with
// first-sequence >= since.
func (s *Storage) WALIterator(since uint64) (*WALIterator, error) {
	db, err := s.DB()
	if err != nil {
		return nil, err
	}
	txn := db.NewTransactionAt(math.MaxUint64, false)
	it := txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   16,
		Prefix:         []byte{ColumnWAL},
	})
	it.Seek(walKey(since))
	return &WALIterator{txn: txn, it: it}, nil
}

// Next advances to the following batch, returning false at the end or on
// error.
func (w *WALIterator) Next() bool {
	if w.err != nil {
		return false
	}
	if w.cur != nil {
		w.it.Next()
	}
	if !w.it.Valid() {
		w.cur = nil
		return false
	}
	item := w.it.Item()
	seq := walSeqFromKey(item.Key())
	val, err := item.ValueCopy(nil)
	if err != nil {
		w.err = fmt.Errorf("read wal record %d: %w", seq, err)
		return false
	}
	batch, err := DecodeWALRecord(val)
	if err != nil {
		w.err = fmt.Errorf("decode wal record %d: %w", seq, err)
		return false
	}
	w.cur = &WALBatch{Seq: seq, Batch: batch}
	return true
}

// Batch returns the batch at the current position, or nil once Next has
// returned false.
func (w *WALIterator) Batch() *WALBatch {
	return w.cur
}

// Err reports a decoding or read failure that stopped iteration.
func (w *WALIterator) Err() error {
	return w.err
}

// Close releases the iterator and its transaction.
func (w *WALIterator) Close() {
	w.it.Close()
	w.txn.Discard()
}
