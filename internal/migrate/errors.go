// Package migrate moves one hash slot's data to another node over the Redis
// wire protocol: a snapshot bulk phase followed by incremental WAL catch-up
// and a brief write-blocked cutover.
package migrate

import "errors"

// Failure kinds. A failure during the transfer itself maps to one of these so
// the operator can tell a network problem from a data problem; an error from
// the success callback is passed through as returned.
var (
	// ErrCanceled reports a migration stopped by operator request or
	// shutdown before it finished.
	ErrCanceled = errors.New("migration task canceled")

	// ErrNetworkIO reports a socket-level send or receive failure.
	ErrNetworkIO = errors.New("network i/o error")

	// ErrProtocolParse reports a malformed reply from the destination.
	ErrProtocolParse = errors.New("protocol parse error")

	// ErrDestination reports a well-formed error reply from the destination.
	ErrDestination = errors.New("destination error reply")

	// ErrDBRead reports a local read failure against the store.
	ErrDBRead = errors.New("db read error")

	// ErrDiscontinuity reports a gap in the replay log, after which
	// incremental catch-up cannot be trusted.
	ErrDiscontinuity = errors.New("wal discontinuity")
)

// Submission rejections.
var (
	// ErrMigrationRunning reports that another migration holds the gate.
	ErrMigrationRunning = errors.New("a migration is already in progress")

	// ErrSlotMigrated reports that the slot has already been migrated away.
	ErrSlotMigrated = errors.New("the slot has already been migrated")
)
