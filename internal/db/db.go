// Package db implements typed key operations (string, hash, set, zset, list,
// bitmap, sortedint, stream) over the log-structured store. Each operation
// stages its metadata update and subkey mutations in one write batch so the
// batch replay can recover the value kind from the metadata entry.
package db

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// ErrWrongType is returned when a key holds a different value kind than the
// operation expects.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// SlotMovedError rejects a write to a slot that has been handed to another
// node. Its message is the wire-level redirection.
type SlotMovedError struct {
	Slot uint16
	Addr string
}

func (e *SlotMovedError) Error() string {
	return fmt.Sprintf("MOVED %d %s", e.Slot, e.Addr)
}

// WriteGuard decides whether a write to the slot may proceed. It runs under
// the storage write latch, so a migration cutover (which takes the latch
// exclusively) can never slip between the check and the commit.
type WriteGuard func(slot uint16) error

// DB is the typed operation surface over one namespace of the store.
type DB struct {
	store  *storage.Storage
	ns     []byte
	guard  WriteGuard
	logger *zap.Logger
}

// New binds a typed layer to the store under the given namespace.
func New(store *storage.Storage, namespace string, logger *zap.Logger) *DB {
	if namespace == "" {
		namespace = storage.DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{store: store, ns: []byte(namespace), logger: logger}
}

// Storage exposes the underlying store for the migration subsystem.
func (d *DB) Storage() *storage.Storage { return d.store }

// SetWriteGuard installs the per-slot write guard. Call before serving
// traffic; the field is not synchronized.
func (d *DB) SetWriteGuard(g WriteGuard) { d.guard = g }

// Namespace returns the tenant namespace bytes.
func (d *DB) Namespace() []byte { return d.ns }

func slotOf(key []byte) uint16 {
	return hash.KeySlot(string(key))
}

func (d *DB) metadataKey(key []byte) []byte {
	return storage.EncodeMetadataKey(d.ns, slotOf(key), key)
}

// getMetadata reads a live metadata record of the wanted kind. Expired keys
// are reclaimed in place and reported as absent. wantType TypeNone accepts
// any kind.
func (d *DB) getMetadata(key []byte, wantType storage.RedisType) (storage.Metadata, []byte, bool, error) {
	raw, ok, err := d.store.Get(d.metadataKey(key))
	if err != nil || !ok {
		return storage.Metadata{}, nil, false, err
	}
	meta, trailer, err := storage.DecodeMetadata(raw)
	if err != nil {
		return storage.Metadata{}, nil, false, err
	}
	if meta.Expired(storage.NowMs()) {
		if err := d.reclaimExpired(key); err != nil {
			return storage.Metadata{}, nil, false, err
		}
		return storage.Metadata{}, nil, false, nil
	}
	if wantType != storage.TypeNone && meta.Type != wantType {
		return storage.Metadata{}, nil, false, ErrWrongType
	}
	return meta, trailer, true, nil
}

// reclaimExpired deletes an expired key with the lazy-expire flag so the
// deletion is not replayed onto a migration destination.
func (d *DB) reclaimExpired(key []byte) error {
	batch := storage.NewWriteBatch()
	batch.SetFlag(storage.WALFlagLazyExpire)
	batch.Delete(d.metadataKey(key))
	_, err := d.store.Write(batch)
	if err == nil {
		d.logger.Debug("reclaimed expired key", zap.ByteString("key", key))
	}
	return err
}

// newVersion derives a fresh monotonic version for a full-key overwrite.
// Stale subkeys of the previous version become unreachable.
func (d *DB) newVersion() uint64 {
	return d.store.LatestSeq() + 1
}

func (d *DB) write(key []byte, batch *storage.WriteBatch) error {
	d.store.RLockWrites()
	defer d.store.RUnlockWrites()
	if d.guard != nil {
		if err := d.guard(slotOf(key)); err != nil {
			return err
		}
	}
	_, err := d.store.Write(batch)
	return err
}

// Exists reports whether the key is live, any kind.
func (d *DB) Exists(key []byte) (bool, error) {
	_, _, ok, err := d.getMetadata(key, storage.TypeNone)
	return ok, err
}

// Type returns the value kind of a live key.
func (d *DB) Type(key []byte) (storage.RedisType, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeNone)
	if err != nil || !ok {
		return storage.TypeNone, err
	}
	return meta.Type, nil
}

// Del removes a key of any kind. Returns whether it existed.
func (d *DB) Del(key []byte) (bool, error) {
	meta, _, ok, err := d.getMetadata(key, storage.TypeNone)
	if err != nil || !ok {
		return false, err
	}
	batch := storage.NewWriteBatch()
	batch.Delete(d.metadataKey(key))
	_ = meta // subkeys of the old version are orphaned, compaction's problem
	return true, d.write(key, batch)
}

// PExpireAt sets the absolute expiry in ms on a live key.
func (d *DB) PExpireAt(key []byte, expireMs uint64) (bool, error) {
	meta, trailer, ok, err := d.getMetadata(key, storage.TypeNone)
	if err != nil || !ok {
		return false, err
	}
	meta.Expire = expireMs
	batch := storage.NewWriteBatch()
	batch.Put(d.metadataKey(key), meta.Encode(trailer))
	return true, d.write(key, batch)
}

func (d *DB) subkey(col byte, key []byte, version uint64, sub []byte) []byte {
	return storage.EncodeSubkey(col, d.ns, slotOf(key), key, version, sub)
}
