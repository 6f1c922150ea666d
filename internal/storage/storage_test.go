package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAssignsDenseSequences(t *testing.T) {
	s := openTestStorage(t)

	b1 := NewWriteBatch()
	b1.Put([]byte("ma"), []byte("1"))
	seq1, err := s.Write(b1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq1)

	b2 := NewWriteBatch()
	b2.Put([]byte("mb"), []byte("2"))
	b2.Put([]byte("mc"), []byte("3"))
	b2.Delete([]byte("ma"))
	seq2, err := s.Write(b2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq2)
	require.Equal(t, uint64(4), s.LatestSeq())
}

func TestSnapshotIsolation(t *testing.T) {
	s := openTestStorage(t)

	b := NewWriteBatch()
	b.Put([]byte("mk"), []byte("old"))
	_, err := s.Write(b)
	require.NoError(t, err)

	sn, err := s.Snapshot()
	require.NoError(t, err)
	defer sn.Release()

	b2 := NewWriteBatch()
	b2.Put([]byte("mk"), []byte("new"))
	_, err = s.Write(b2)
	require.NoError(t, err)

	val, ok, err := sn.Get([]byte("mk"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "old", string(val))

	cur, ok, err := s.Get([]byte("mk"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", string(cur))
}

func TestWALIteratorReplaysInOrder(t *testing.T) {
	s := openTestStorage(t)

	for i := 0; i < 3; i++ {
		b := NewWriteBatch()
		b.Put([]byte{'m', byte('a' + i)}, []byte{byte(i)})
		b.Put([]byte{'s', byte('a' + i)}, []byte{byte(i)})
		_, err := s.Write(b)
		require.NoError(t, err)
	}

	it, err := s.WALIterator(3)
	require.NoError(t, err)
	defer it.Close()

	var seqs []uint64
	var last *WALBatch
	for it.Next() {
		wb := it.Batch()
		require.Len(t, wb.Batch.Entries, 2)
		seqs = append(seqs, wb.Seq)
		last = wb
	}
	require.NoError(t, it.Err())
	require.Equal(t, []uint64{3, 5}, seqs)
	require.Equal(t, uint64(7), (&WALBatch{Seq: 5, Batch: last.Batch}).NextSeq())
}

func TestWALRecordCarriesFlags(t *testing.T) {
	s := openTestStorage(t)

	b := NewWriteBatch()
	b.Delete([]byte("mgone"))
	b.SetFlag(WALFlagLazyExpire)
	_, err := s.Write(b)
	require.NoError(t, err)

	it, err := s.WALIterator(1)
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next())
	require.Equal(t, WALFlagLazyExpire, it.Batch().Batch.Flags&WALFlagLazyExpire)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)

	b := NewWriteBatch()
	b.Put([]byte("ma"), []byte("1"))
	b.Put([]byte("mb"), []byte("2"))
	_, err = s.Write(b)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Snapshot()
	require.ErrorIs(t, err, ErrClosed)

	s2, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	defer s2.Close()
	require.Equal(t, uint64(2), s2.LatestSeq())

	b2 := NewWriteBatch()
	b2.Put([]byte("mc"), []byte("3"))
	seq, err := s2.Write(b2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)
}

func TestMetadataRecordRoundTrip(t *testing.T) {
	m := Metadata{Type: TypeHash, Expire: 1712000000000, Version: 9, Size: 4}
	enc := m.Encode(nil)
	got, trailer, err := DecodeMetadata(enc)
	require.NoError(t, err)
	require.Equal(t, m, got)
	require.Empty(t, trailer)

	str := Metadata{Type: TypeString, Expire: 0}
	enc = str.Encode([]byte("value"))
	got, trailer, err = DecodeMetadata(enc)
	require.NoError(t, err)
	require.Equal(t, TypeString, got.Type)
	require.Equal(t, "value", string(trailer))
}

func TestWALRecordRoundTrip(t *testing.T) {
	b := NewWriteBatch()
	b.Put([]byte("mkey"), []byte("val"))
	b.Delete([]byte("skey"))
	b.SetFlag(WALFlagLazyExpire)

	dec, err := DecodeWALRecord(EncodeWALRecord(b))
	require.NoError(t, err)
	require.Equal(t, b.Flags, dec.Flags)
	require.Equal(t, b.Entries, dec.Entries)

	_, err = DecodeWALRecord([]byte{0, 0, 0, 0})
	require.Error(t, err)
}
