// Package cluster tracks slot ownership across the nodes of the cluster and
// persists it so a restarted node still knows which slots moved away.
package cluster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
)

const (
	topologyFileName     = "cluster-topology.json"
	saveDebounceDuration = 100 * time.Millisecond

	currentTopologyVersion = 1
)

// Node is one registered cluster member.
type Node struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// persistentTopology is the on-disk form.
type persistentTopology struct {
	Version int                   `json:"version"`
	MyID    string                `json:"my_id"`
	Nodes   []Node                `json:"nodes"`
	SlotMap [hash.SlotCount]string `json:"slot_map"`
}

// Topology is the slot→node map plus the node registry. Mutations mark the
// state dirty; a background loop debounces the JSON write so a burst of slot
// flips costs one save.
type Topology struct {
	dataDir string
	myID    string
	logger  *zap.Logger

	mu    sync.RWMutex
	nodes map[string]Node
	slots [hash.SlotCount]string

	dirty  atomic.Bool
	saveCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// Open loads the persisted topology from dataDir, or starts empty.
func Open(dataDir, myID string, logger *zap.Logger) (*Topology, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	t := &Topology{
		dataDir: dataDir,
		myID:    myID,
		logger:  logger,
		nodes:   make(map[string]Node),
		saveCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	t.wg.Add(1)
	go t.saveLoop()
	return t, nil
}

// MyID returns this node's cluster id.
func (t *Topology) MyID() string { return t.myID }

// AddNode registers or updates a member.
func (t *Topology) AddNode(n Node) {
	t.mu.Lock()
	t.nodes[n.ID] = n
	t.mu.Unlock()
	t.markDirty()
}

// Node looks up a member by id.
func (t *Topology) Node(id string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// SetSlot assigns a slot to a node.
func (t *Topology) SetSlot(slot uint16, nodeID string) error {
	if slot >= hash.SlotCount {
		return fmt.Errorf("invalid slot: %d", slot)
	}
	t.mu.Lock()
	t.slots[slot] = nodeID
	t.mu.Unlock()
	t.markDirty()
	return nil
}

// SetSlotRange assigns a contiguous slot range to a node.
func (t *Topology) SetSlotRange(start, end uint16, nodeID string) error {
	if start > end || end >= hash.SlotCount {
		return fmt.Errorf("invalid slot range %d-%d", start, end)
	}
	t.mu.Lock()
	for slot := start; slot <= end; slot++ {
		t.slots[slot] = nodeID
	}
	t.mu.Unlock()
	t.markDirty()
	return nil
}

// SlotOwner returns the owning node id, empty when unassigned.
func (t *Topology) SlotOwner(slot uint16) string {
	if slot >= hash.SlotCount {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[slot]
}

// IsMine reports whether this node owns the slot. An unassigned slot is
// served locally so a standalone node works without any topology setup.
func (t *Topology) IsMine(slot uint16) bool {
	owner := t.SlotOwner(slot)
	return owner == "" || owner == t.myID
}

// SetSlotMigrated flips ownership after a migration succeeds and persists
// the new map.
func (t *Topology) SetSlotMigrated(slot uint16, nodeID string) error {
	if err := t.SetSlot(slot, nodeID); err != nil {
		return err
	}
	t.logger.Info("slot ownership moved",
		zap.Uint16("slot", slot),
		zap.String("owner", nodeID))
	return nil
}

// NodeAddr resolves a node id to its serving address.
func (t *Topology) NodeAddr(nodeID string) (string, bool) {
	n, ok := t.Node(nodeID)
	if !ok {
		return "", false
	}
	return n.Addr, true
}

func (t *Topology) markDirty() {
	if t.dirty.CompareAndSwap(false, true) {
		select {
		case t.saveCh <- struct{}{}:
		default:
		}
	}
}

func (t *Topology) saveLoop() {
	defer t.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-t.saveCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(saveDebounceDuration)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			timer = nil
			if t.dirty.Load() {
				if err := t.save(); err != nil {
					t.logger.Error("topology save failed", zap.Error(err))
				}
			}

		case <-t.doneCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (t *Topology) load() error {
	data, err := os.ReadFile(t.FilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read topology file: %w", err)
	}
	var state persistentTopology
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal topology: %w", err)
	}
	if state.Version != currentTopologyVersion {
		return fmt.Errorf("unsupported topology version: %d", state.Version)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range state.Nodes {
		t.nodes[n.ID] = n
	}
	t.slots = state.SlotMap
	return nil
}

func (t *Topology) save() error {
	t.mu.RLock()
	state := persistentTopology{
		Version: currentTopologyVersion,
		MyID:    t.myID,
		SlotMap: t.slots,
	}
	for _, n := range t.nodes {
		state.Nodes = append(state.Nodes, n)
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal topology: %w", err)
	}

	path := t.FilePath()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename topology file: %w", err)
	}
	t.dirty.Store(false)
	return nil
}

// Save forces a synchronous write.
func (t *Topology) Save() error {
	return t.save()
}

// Close stops the save loop and flushes any pending state.
func (t *Topology) Close() error {
	close(t.doneCh)
	t.wg.Wait()
	if t.dirty.Load() {
		return t.save()
	}
	return nil
}

// FilePath returns the persisted topology location.
func (t *Topology) FilePath() string {
	return filepath.Join(t.dataDir, topologyFileName)
}
