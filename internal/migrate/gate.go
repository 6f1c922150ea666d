package migrate

import "sync/atomic"

// noSlot marks an empty gate register.
const noSlot = int32(-1)

// SlotGate publishes which slot is migrating, which is write-forbidden and
// which last failed. The command router consults it on every write without
// taking a lock.
type SlotGate struct {
	migrating atomic.Int32
	forbidden atomic.Int32
	failed    atomic.Int32
	dstAddr   atomic.Value // string
}

// NewSlotGate returns a gate with every register empty.
func NewSlotGate() *SlotGate {
	g := &SlotGate{}
	g.migrating.Store(noSlot)
	g.forbidden.Store(noSlot)
	g.failed.Store(noSlot)
	g.dstAddr.Store("")
	return g
}

// TryStart claims the gate for a migration of slot toward dstAddr. It fails
// when another migration is already running, or when the slot was already
// migrated away and is still write-forbidden.
func (g *SlotGate) TryStart(slot uint16, dstAddr string) error {
	if !g.migrating.CompareAndSwap(noSlot, int32(slot)) {
		return ErrMigrationRunning
	}
	if g.forbidden.Load() == int32(slot) {
		g.migrating.Store(noSlot)
		return ErrSlotMigrated
	}
	g.failed.Store(noSlot)
	g.dstAddr.Store(dstAddr)
	return nil
}

// Forbid flips the migrating slot read-only. The caller holds the storage
// write latch so no client write is in flight while the register changes.
func (g *SlotGate) Forbid(slot uint16) {
	g.forbidden.Store(int32(slot))
}

// Finish releases the migrating register. On failure the forbidden register
// is rolled back so the slot serves writes again; on success it stays set,
// keeping redirects alive until the topology hands the slot over and blocking
// a re-migration of the same slot.
func (g *SlotGate) Finish(slot uint16, failed bool) {
	if failed {
		g.failed.Store(int32(slot))
		g.forbidden.CompareAndSwap(int32(slot), noSlot)
	}
	g.migrating.CompareAndSwap(int32(slot), noSlot)
}

// MigratingSlot returns the active slot, or ok=false when idle.
func (g *SlotGate) MigratingSlot() (uint16, bool) {
	s := g.migrating.Load()
	if s == noSlot {
		return 0, false
	}
	return uint16(s), true
}

// WriteForbidden reports whether writes to the slot must be redirected, and
// where to.
func (g *SlotGate) WriteForbidden(slot uint16) (string, bool) {
	if g.forbidden.Load() != int32(slot) {
		return "", false
	}
	addr, _ := g.dstAddr.Load().(string)
	return addr, true
}

// LastFailed returns the most recently failed slot, or ok=false.
func (g *SlotGate) LastFailed() (uint16, bool) {
	s := g.failed.Load()
	if s == noSlot {
		return 0, false
	}
	return uint16(s), true
}
