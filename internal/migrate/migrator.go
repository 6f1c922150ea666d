package migrate

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/metrics"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// dialTimeout bounds the destination connection attempt.
const dialTimeout = 5 * time.Second

// Defaults applied when a knob is left zero. MaxSpeed is the exception: a
// zero MaxSpeed disables pacing, and DefaultMaxSpeed is the value the server
// config starts from.
const (
	DefaultMaxSpeed     = 4096
	DefaultPipelineSize = 16
	DefaultSeqGapLimit  = 10000
)

// State is the externally visible migration state.
type State int32

const (
	StateNone State = iota
	StateStarted
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "start"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "fail"
	default:
		return "none"
	}
}

// Job describes one slot migration request.
type Job struct {
	Slot      uint16
	DstNodeID string
	DstAddr   string
	DstAuth   string

	// Zero values fall back to the configured defaults.
	MaxSpeed     int
	PipelineSize int
	SeqGapLimit  uint64
}

// Config carries the node-level migration knobs. Zero values fall back to
// the package defaults, except MaxSpeed, where zero means unlimited. DstAuth is the password sent to destinations that
// require AUTH. OnSuccess runs after the destination confirms the import,
// before the job is released; it is where topology ownership flips.
type Config struct {
	MaxSpeed     int
	PipelineSize int
	SeqGapLimit  uint64
	DstAuth      string
	OnSuccess    func(slot uint16, nodeID string) error
}

// Migrator owns the single background worker that runs migrations one at a
// time. Submissions race on the slot gate, so at most one job is ever active.
type Migrator struct {
	store     *storage.Storage
	ns        []byte
	gate      *SlotGate
	cfg       Config
	onSuccess func(slot uint16, nodeID string) error
	logger    *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *Job
	closed  bool
	done    chan struct{}

	stopFlag atomic.Bool

	// Last submitted job, for the status read.
	lastSlot  atomic.Int32
	lastDst   atomic.Value // string
	lastState atomic.Int32
}

// NewMigrator wires a migrator to the store and starts its worker.
func NewMigrator(store *storage.Storage, namespace string, cfg Config, logger *zap.Logger) *Migrator {
	if namespace == "" {
		namespace = storage.DefaultNamespace
	}
	if cfg.MaxSpeed < 0 {
		cfg.MaxSpeed = 0
	}
	if cfg.PipelineSize <= 0 {
		cfg.PipelineSize = DefaultPipelineSize
	}
	if cfg.SeqGapLimit == 0 {
		cfg.SeqGapLimit = DefaultSeqGapLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Migrator{
		store:     store,
		ns:        []byte(namespace),
		gate:      NewSlotGate(),
		cfg:       cfg,
		onSuccess: cfg.OnSuccess,
		logger:    logger,
		done:      make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.lastSlot.Store(noSlot)
	m.lastDst.Store("")
	go m.worker()
	return m
}

// Gate returns the slot gate the router consults.
func (m *Migrator) Gate() *SlotGate { return m.gate }

// Submit queues a migration. It fails when another migration is running or
// queued, without blocking.
func (m *Migrator) Submit(job Job) error {
	if job.MaxSpeed <= 0 {
		job.MaxSpeed = m.cfg.MaxSpeed
	}
	if job.PipelineSize <= 0 {
		job.PipelineSize = m.cfg.PipelineSize
	}
	if job.SeqGapLimit == 0 {
		job.SeqGapLimit = m.cfg.SeqGapLimit
	}
	if job.DstAuth == "" {
		job.DstAuth = m.cfg.DstAuth
	}
	if err := m.gate.TryStart(job.Slot, job.DstAddr); err != nil {
		return fmt.Errorf("slot %d: %w", job.Slot, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.gate.Finish(job.Slot, false)
		return errors.New("migrator is shut down")
	}
	m.stopFlag.Store(false)
	m.pending = &job
	m.lastSlot.Store(int32(job.Slot))
	m.lastDst.Store(job.DstNodeID)
	m.lastState.Store(int32(StateStarted))
	m.cond.Signal()
	m.logger.Info("migration submitted",
		zap.Uint16("slot", job.Slot),
		zap.String("destination", job.DstNodeID))
	return nil
}

// Stop cancels the running migration, if any. The worker notices at the next
// pipeline flush.
func (m *Migrator) Stop() {
	m.stopFlag.Store(true)
}

// Close cancels the running job, if any, and waits for the worker to exit.
func (m *Migrator) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopFlag.Store(true)
	m.cond.Signal()
	m.mu.Unlock()
	<-m.done
}

// InfoString renders the migration status block.
func (m *Migrator) InfoString() string {
	slot := m.lastSlot.Load()
	if slot == noSlot {
		return "migrating_slot: -1\r\ndestination_node: \r\nmigrating_state: none\r\n"
	}
	dst, _ := m.lastDst.Load().(string)
	return fmt.Sprintf("migrating_slot: %d\r\ndestination_node: %s\r\nmigrating_state: %s\r\n",
		slot, dst, State(m.lastState.Load()))
}

func (m *Migrator) worker() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for m.pending == nil && !m.closed {
			m.cond.Wait()
		}
		if m.pending == nil && m.closed {
			m.mu.Unlock()
			return
		}
		job := m.pending
		m.pending = nil
		m.mu.Unlock()

		err := m.run(job)
		switch {
		case err == nil:
			m.lastState.Store(int32(StateSuccess))
			metrics.MigrationStage.Set(3)
			metrics.Migrations.WithLabelValues("success").Inc()
			m.logger.Info("migration succeeded", zap.Uint16("slot", job.Slot))
		case errors.Is(err, ErrCanceled):
			m.lastState.Store(int32(StateFailed))
			metrics.MigrationStage.Set(0)
			metrics.Migrations.WithLabelValues("canceled").Inc()
			m.logger.Warn("migration canceled", zap.Uint16("slot", job.Slot))
		default:
			m.lastState.Store(int32(StateFailed))
			metrics.MigrationStage.Set(4)
			metrics.Migrations.WithLabelValues("failed").Inc()
			m.logger.Error("migration failed",
				zap.Uint16("slot", job.Slot),
				zap.Error(err))
		}
		m.gate.Finish(job.Slot, err != nil)
	}
}

// run executes one job end to end. Resources are released exactly once by
// the deferred clean, whatever path exits.
func (m *Migrator) run(job *Job) error {
	conn, err := net.DialTimeout("tcp", job.DstAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrNetworkIO, job.DstAddr, err)
	}

	var snapshot *storage.Snapshot
	var cleanOnce sync.Once
	clean := func() {
		cleanOnce.Do(func() {
			if snapshot != nil {
				snapshot.Release()
			}
			conn.Close()
		})
	}
	defer clean()

	sk := newSink(conn, job.PipelineSize, job.MaxSpeed, m.stopFlag.Load)
	slotArg := []byte(strconv.FormatUint(uint64(job.Slot), 10))

	if job.DstAuth != "" {
		if err := sk.call([]byte("AUTH"), []byte(job.DstAuth)); err != nil {
			return err
		}
	}
	if err := sk.call([]byte("CLUSTER"), []byte("IMPORT"), slotArg, []byte("0")); err != nil {
		return err
	}

	// Everything the destination receives is anchored to this snapshot; the
	// incremental phase replays from the sequence right after it.
	snapshot, err = m.store.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDBRead, err)
	}

	metrics.MigrationStage.Set(1)
	stats, err := scanSlot(snapshot, m.ns, job.Slot, sk, m.logger)
	metrics.MigratedKeys.Add(float64(stats.Migrated))
	metrics.ExpiredKeys.Add(float64(stats.Expired))
	metrics.EmptyKeys.Add(float64(stats.Empty))
	if err != nil {
		m.abortImport(sk, slotArg)
		return err
	}

	metrics.MigrationStage.Set(2)
	prevFragment := func(fragKey []byte) ([]byte, bool, error) {
		return snapshot.Get(fragKey)
	}
	ext := newExtractor(m.ns, job.Slot, false, prevFragment)
	tl := newTailer(m.store, ext, sk, snapshot.Seq+1, job.SeqGapLimit, m.logger)
	err = tl.syncWAL(func() { m.gate.Forbid(job.Slot) })
	metrics.WALBatches.Add(float64(tl.batches))
	metrics.PipelineFlushes.Add(float64(sk.flushes))
	if err != nil {
		m.abortImport(sk, slotArg)
		return err
	}

	if err := sk.call([]byte("CLUSTER"), []byte("IMPORT"), slotArg, []byte("1")); err != nil {
		return err
	}
	if m.onSuccess != nil {
		if err := m.onSuccess(job.Slot, job.DstNodeID); err != nil {
			return fmt.Errorf("record slot ownership: %w", err)
		}
	}
	return nil
}

// abortImport tells the destination to drop the partial import, best effort.
func (m *Migrator) abortImport(sk *sink, slotArg []byte) {
	if err := sk.call([]byte("CLUSTER"), []byte("IMPORT"), slotArg, []byte("2")); err != nil {
		m.logger.Warn("failed to notify destination of aborted import", zap.Error(err))
	}
}
