package sync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/sync/conflict"
)

// Status represents the current sync status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Result summarizes one sync run.
type Result struct {
	Entity      string `json:"entity"`
	Added       int    `json:"added"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Uploaded    int    `json:"uploaded"`
	DeletedSent int    `json:"deleted_sent"`
	Conflicts   int    `json:"conflicts"`
	// Skipped is set when nothing was pending and the batch call was not made.
	Skipped   bool          `json:"skipped"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	// LastSync is the timestamp to send on the next sync.
	LastSync int64 `json:"last_sync"`
}

// Options configures an Engine.
type Options struct {
	ScopeID string
	// SkipEmpty skips the batch call when nothing is pending, except on the first sync.
	SkipEmpty   bool
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RunTimeout bounds one shared sync run. Callers joining the run are not able to
	// cancel it; they stop waiting when their own context ends.
	RunTimeout time.Duration
	// Detector logs server-wins conflicts. Nil disables conflict logging.
	Detector *conflict.Detector
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		SkipEmpty:   true,
		BackoffBase: time.Minute,
		BackoffMax:  time.Hour,
		RunTimeout:  5 * time.Minute,
		Detector:    conflict.NewDetector(),
	}
}

// Engine reconciles the pending records of one entity type with the server in a
// single batch round trip.
type Engine[T any, P models.Entity[T]] struct {
	store   db.RecordStore[T]
	gateway remote.Gateway[T]
	states  db.SyncStateRepository
	opts    Options
	group   singleflight.Group
	now     func() time.Time

	mu          sync.RWMutex
	status      Status
	lastSync    *time.Time
	lastErr     error
	nextAttempt time.Time
	handler     EventHandler
}

// NewEngine creates an Engine.
func NewEngine[T any, P models.Entity[T]](store db.RecordStore[T], gateway remote.Gateway[T], states db.SyncStateRepository, opts Options) *Engine[T, P] {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Minute
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	return &Engine[T, P]{
		store:   store,
		gateway: gateway,
		states:  states,
		opts:    opts,
		now:     time.Now,
		status:  StatusIdle,
	}
}

// Entity returns the entity table name.
func (e *Engine[T, P]) Entity() string {
	return e.store.Table()
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine[T, P]) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Status returns the current sync status.
func (e *Engine[T, P]) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns the time of the last successful sync.
func (e *Engine[T, P]) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the last sync error, nil after a success.
func (e *Engine[T, P]) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// PendingChanges returns the number of records waiting to be synced.
func (e *Engine[T, P]) PendingChanges(ctx context.Context) (int, error) {
	return e.store.PendingCount(ctx)
}

// NextAttempt returns when a scheduled sync may run again.
func (e *Engine[T, P]) NextAttempt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextAttempt
}

// Ready reports whether the backoff window has passed.
func (e *Engine[T, P]) Ready(now time.Time) bool {
	return !now.Before(e.NextAttempt())
}

// SyncSinceLast runs Sync with the persisted last-sync timestamp.
func (e *Engine[T, P]) SyncSinceLast(ctx context.Context) (*Result, error) {
	st, err := e.states.Load(ctx, e.Entity())
	if err != nil {
		return nil, err
	}
	return e.Sync(ctx, st.LastSync)
}

// Sync runs one batch sync. Concurrent callers join the in-flight run and share its
// result. The run is bounded by RunTimeout, not by any caller's context: a caller
// whose ctx ends gets ctx.Err() while the run completes for the others. On failure no
// record is changed and the error keeps its taxonomy code.
func (e *Engine[T, P]) Sync(ctx context.Context, lastSync int64) (*Result, error) {
	ch := e.group.DoChan(e.Entity(), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RunTimeout)
		defer cancel()
		return e.run(runCtx, lastSync)
	})

	select {
	case <-ctx.Done():
		logging.Debug("Stopped waiting for sync", map[string]interface{}{
			"entity": e.Entity(),
			"error":  ctx.Err().Error(),
		})
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			logging.Debug("Joined in-flight sync", map[string]interface{}{"entity": e.Entity()})
		}
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

// batch is the partitioned pending set.
type batch[T any] struct {
	records []*T
	acks    []db.Ack
	deletes []int64
	local   int // deleted before ever reaching the server
	waiting int // acknowledged uploads still without a server id
}

func (e *Engine[T, P]) partition(pending []*T) batch[T] {
	var b batch[T]
	for _, rec := range pending {
		m := P(rec).Meta()
		switch m.SyncStatus {
		case models.SyncStatusPendingDelete:
			if m.ID > 0 {
				b.deletes = append(b.deletes, m.ID)
			} else {
				b.local++
			}
		case models.SyncStatusPendingUpload, models.SyncStatusPendingUpdate:
			if m.AwaitingConfirmation() {
				b.waiting++
				continue
			}
			b.records = append(b.records, rec)
			b.acks = append(b.acks, db.Ack{LocalID: m.LocalID, UpdatedAt: m.UpdatedAt})
		}
	}
	return b
}

func (e *Engine[T, P]) run(ctx context.Context, lastSync int64) (*Result, error) {
	entity := e.Entity()
	start := e.now()
	result := &Result{Entity: entity, StartTime: start, LastSync: lastSync}

	e.setStatus(StatusSyncing)
	e.emit(Event{Type: EventStarted, Entity: entity, Time: start})

	pending, err := e.store.PendingSync(ctx)
	if err != nil {
		return nil, e.fail(ctx, entity, err)
	}
	b := e.partition(pending)
	if b.waiting > 0 {
		logging.Debug("Holding acknowledged uploads until the server returns their ids", map[string]interface{}{
			"entity":  entity,
			"waiting": b.waiting,
		})
	}

	payload := &remote.BatchPayload[T]{
		Key:        entity,
		Records:    b.records,
		DeletedIDs: b.deletes,
		LastSync:   lastSync,
		ScopeID:    e.opts.ScopeID,
	}

	if e.opts.SkipEmpty && lastSync != 0 && payload.Empty() {
		if b.local > 0 {
			if _, err := e.store.PhysicallyPurge(ctx); err != nil {
				return nil, e.fail(ctx, entity, err)
			}
		}
		result.Skipped = true
		result.Duration = e.now().Sub(start)
		e.succeed(result, nil)
		logging.Debug("Nothing pending, sync skipped", map[string]interface{}{"entity": entity})
		return result, nil
	}

	diff, err := e.gateway.SyncBatch(ctx, payload)
	if err != nil {
		return nil, e.fail(ctx, entity, err)
	}

	opts := db.ApplyOptions{}
	if e.opts.Detector != nil {
		opts.OnConflict = e.opts.Detector.Detect
	}
	applied, err := e.store.ApplyDiff(ctx, db.Changes[T]{
		Added:       diff.Added,
		Updated:     diff.Updated,
		Deleted:     diff.Deleted,
		Acked:       b.acks,
		DeletesSent: b.deletes,
	}, opts)
	if err != nil {
		return nil, e.fail(ctx, entity, err)
	}

	if err := e.states.RecordSync(ctx, entity, start.UnixMilli()); err != nil {
		return nil, e.fail(ctx, entity, err)
	}

	if len(applied.Unconfirmed) > 0 {
		logging.Warn("Uploads acknowledged without a server id, held until the server returns them", map[string]interface{}{
			"entity":    entity,
			"local_ids": applied.Unconfirmed,
		})
	}

	result.Added = applied.Added
	result.Updated = applied.Updated
	result.Deleted = applied.Deleted
	result.Conflicts = applied.Conflicts
	result.Uploaded = len(b.records)
	result.DeletedSent = len(b.deletes)
	result.LastSync = start.UnixMilli()
	result.Duration = e.now().Sub(start)

	completedAt := start.Add(result.Duration)
	e.succeed(result, &completedAt)

	logging.Info("Sync completed", map[string]interface{}{
		"entity":       entity,
		"added":        result.Added,
		"updated":      result.Updated,
		"deleted":      result.Deleted,
		"uploaded":     result.Uploaded,
		"deleted_sent": result.DeletedSent,
		"conflicts":    result.Conflicts,
		"duration_ms":  result.Duration.Milliseconds(),
	})
	return result, nil
}

func (e *Engine[T, P]) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// succeed records a successful run. completedAt is nil when no call was made.
func (e *Engine[T, P]) succeed(result *Result, completedAt *time.Time) {
	e.mu.Lock()
	e.status = StatusIdle
	e.lastErr = nil
	e.nextAttempt = time.Time{}
	if completedAt != nil {
		e.lastSync = completedAt
	}
	e.mu.Unlock()

	e.emit(Event{Type: EventCompleted, Entity: result.Entity, Time: e.now(), Result: result})
	if result.Conflicts > 0 {
		e.emit(Event{Type: EventConflict, Entity: result.Entity, Time: e.now(), Result: result})
	}
}

// fail records a failed run and schedules the next attempt. Only the sync state
// failure counter is written.
func (e *Engine[T, P]) fail(ctx context.Context, entity string, err error) error {
	failures, stateErr := e.states.RecordFailure(ctx, entity, err.Error())
	if stateErr != nil {
		logging.Error("Failed to record sync failure", stateErr, map[string]interface{}{"entity": entity})
		failures = 1
	}
	wait := Backoff(failures, e.opts.BackoffBase, e.opts.BackoffMax)

	e.mu.Lock()
	e.status = StatusFailed
	e.lastErr = err
	e.nextAttempt = e.now().Add(wait)
	e.mu.Unlock()

	code := string(apperrors.CodeOf(err))
	fields := map[string]interface{}{
		"entity":   entity,
		"failures": failures,
		"retry_in": wait.String(),
	}
	if apperrors.IsRemote(err) {
		logging.Warn("Sync failed, changes stay pending: "+err.Error(), fields)
	} else {
		logging.ErrorWithCode("Sync failed", code, err, fields)
	}

	e.emit(Event{Type: EventFailed, Entity: entity, Time: e.now(), Error: err.Error(), Code: code})
	return err
}

func (e *Engine[T, P]) emit(event Event) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

// Ensure Engine implements Syncer at compile time.
var _ Syncer = (*Engine[models.Task, *models.Task])(nil)
