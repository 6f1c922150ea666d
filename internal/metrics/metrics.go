package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "kvrocks"
)

var (
	// CommandsTotal counts total commands
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands processed",
		},
		[]string{"cmd", "status"}, // status: success/error
	)

	// ConnectionsTotal tracks active connections
	ConnectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections",
		},
	)

	// MigratedKeys counts keys sent during slot snapshot scans
	MigratedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_migrated_keys_total",
			Help:      "Keys rebuilt on the destination during slot snapshot scans",
		},
	)

	// ExpiredKeys counts keys skipped as already expired
	ExpiredKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_expired_keys_total",
			Help:      "Keys skipped during slot snapshot scans because they had expired",
		},
	)

	// EmptyKeys counts keys skipped with no surviving elements
	EmptyKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_empty_keys_total",
			Help:      "Keys skipped during slot snapshot scans because they had no elements",
		},
	)

	// PipelineFlushes counts destination pipeline round trips
	PipelineFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_pipeline_flushes_total",
			Help:      "Command pipelines flushed to the migration destination",
		},
	)

	// WALLag tracks unreplayed WAL entries during the incremental phase
	WALLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migrate_wal_lag_entries",
			Help:      "WAL entries not yet replayed to the migration destination",
		},
	)

	// WALBatches counts write batches replayed after the snapshot
	WALBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_wal_batches_total",
			Help:      "Write batches replayed to the destination after the snapshot",
		},
	)

	// MigrationStage tracks the active migration stage
	MigrationStage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migrate_stage",
			Help:      "Current migration stage (0 idle, 1 snapshot, 2 wal, 3 success, 4 failed)",
		},
	)

	// Migrations counts finished migrations by outcome
	Migrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_runs_total",
			Help:      "Finished slot migrations by outcome",
		},
		[]string{"outcome"}, // success/failed/canceled
	)

	// Uptime tracks uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
	)

	// MemoryUsage tracks Go runtime memory by kind
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Process memory usage by kind",
		},
		[]string{"kind"},
	)
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
