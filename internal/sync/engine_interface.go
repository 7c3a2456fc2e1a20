// Package sync provides the per-entity batch synchronization engine.
package sync

import (
	"context"
	"time"
)

// Syncer defines the interface for sync engine operations.
// This interface allows for mocking in tests and lets the scheduler and API drive every
// entity type the same way.
type Syncer interface {
	// Entity returns the entity table name, e.g. "tasks".
	Entity() string

	// Sync runs one batch sync against lastSync (unix millis, 0 on the first sync).
	// Concurrent calls join the in-flight run.
	Sync(ctx context.Context, lastSync int64) (*Result, error)

	// SyncSinceLast runs Sync with the persisted last-sync timestamp.
	SyncSinceLast(ctx context.Context) (*Result, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// Status returns the current sync status.
	Status() Status

	// LastSync returns the time of the last successful sync, nil if none this session.
	LastSync() *time.Time

	// LastError returns the last error that occurred during sync.
	LastError() error

	// PendingChanges returns the number of records waiting to be synced.
	PendingChanges(ctx context.Context) (int, error)

	// NextAttempt returns when a scheduled sync may run again after failures.
	NextAttempt() time.Time

	// Ready reports whether the backoff window has passed at now.
	Ready(now time.Time) bool
}
