// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeSyncer counts sync calls.
type fakeSyncer struct {
	entity  string
	calls   int32
	err     error
	ready   bool
	block   chan struct{}
	mu      sync.Mutex
	lastErr error
}

func newFakeSyncer(entity string) *fakeSyncer {
	return &fakeSyncer{entity: entity, ready: true}
}

func (f *fakeSyncer) Entity() string { return f.entity }

func (f *fakeSyncer) Sync(ctx context.Context, lastSync int64) (*syncpkg.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.lastErr = f.err
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &syncpkg.Result{Entity: f.entity}, nil
}

func (f *fakeSyncer) SyncSinceLast(ctx context.Context) (*syncpkg.Result, error) {
	return f.Sync(ctx, 0)
}

func (f *fakeSyncer) SetEventHandler(syncpkg.EventHandler) {}
func (f *fakeSyncer) Status() syncpkg.Status               { return syncpkg.StatusIdle }
func (f *fakeSyncer) LastSync() *time.Time                 { return nil }

func (f *fakeSyncer) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeSyncer) PendingChanges(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeSyncer) NextAttempt() time.Time                          { return time.Time{} }
func (f *fakeSyncer) Ready(now time.Time) bool                        { return f.ready }

func (f *fakeSyncer) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func createTestScheduler(t *testing.T, syncers ...*fakeSyncer) *Scheduler {
	t.Helper()
	list := make([]syncpkg.Syncer, len(syncers))
	for i, s := range syncers {
		list[i] = s
	}
	s, err := NewScheduler(list, &SchedulerConfig{Schedule: "@every 1h", SyncTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =====================================================
// Construction Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.Schedule != "@every 15m" {
		t.Errorf("Schedule = %q, want @every 15m", config.Schedule)
	}
	if config.SyncTimeout != 5*time.Minute {
		t.Errorf("SyncTimeout = %v, want 5m", config.SyncTimeout)
	}
}

// TestNewScheduler_invalidSchedule verifies bad cron specs are rejected.
func TestNewScheduler_invalidSchedule(t *testing.T) {
	_, err := NewScheduler(nil, &SchedulerConfig{Schedule: "every so often"})
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("NewScheduler() error = %v, want INVALID_INPUT", err)
	}
}

// TestScheduler_StartStop verifies the running flag and idempotent start/stop.
func TestScheduler_StartStop(t *testing.T) {
	s := createTestScheduler(t, newFakeSyncer("tasks"))

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

// TestScheduler_Stop_refusesNewRuns verifies no sync starts once Stop was called.
func TestScheduler_Stop_refusesNewRuns(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	tasks.block = make(chan struct{})
	s := createTestScheduler(t, tasks)
	s.Start(context.Background())

	if n := s.TriggerSync(context.Background()); n != 1 {
		t.Fatalf("TriggerSync() = %d, want 1", n)
	}
	waitFor(t, func() bool { return tasks.callCount() == 1 })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	waitFor(t, func() bool { return !s.IsRunning() })

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a sync was running")
	case <-time.After(20 * time.Millisecond):
	}

	if n := s.TriggerSync(context.Background()); n != 0 {
		t.Errorf("TriggerSync() after Stop = %d, want 0", n)
	}
	if err := s.SyncNow(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("SyncNow() after Stop error = %v, want ErrStopped", err)
	}

	close(tasks.block)
	<-stopped
	if tasks.callCount() != 1 {
		t.Errorf("calls = %d, want 1", tasks.callCount())
	}
}

// =====================================================
// Sync Tests
// =====================================================

// TestScheduler_SyncNow verifies every entity is synced and errors are joined.
func TestScheduler_SyncNow(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	products := newFakeSyncer("products")
	products.err = apperrors.New(apperrors.ErrTimeout, "slow")
	products.ready = false // explicit syncs ignore backoff

	s := createTestScheduler(t, tasks, products)
	s.SetOnlineStatus(false) // and connectivity

	err := s.SyncNow(context.Background())
	if tasks.callCount() != 1 || products.callCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", tasks.callCount(), products.callCount())
	}
	if !apperrors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("SyncNow() error = %v, want wrapped TIMEOUT", err)
	}

	status := s.GetStatus()
	if status.LastSyncTime == nil {
		t.Error("LastSyncTime not set after a successful entity sync")
	}
	if len(status.Entities) != 2 || status.Entities[1].LastError == "" {
		t.Errorf("Entities = %+v", status.Entities)
	}
}

// TestScheduler_SyncEntity verifies a single entity can be synced.
func TestScheduler_SyncEntity(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	products := newFakeSyncer("products")
	s := createTestScheduler(t, tasks, products)

	if err := s.SyncEntity(context.Background(), "products"); err != nil {
		t.Fatalf("SyncEntity() error = %v", err)
	}
	if tasks.callCount() != 0 || products.callCount() != 1 {
		t.Errorf("calls = %d/%d, want 0/1", tasks.callCount(), products.callCount())
	}
	if err := s.SyncEntity(context.Background(), "invoices"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("SyncEntity(unknown) error = %v, want NOT_FOUND", err)
	}
}

// TestScheduler_TriggerSync_skipsOfflineAndBackoff verifies scheduled runs respect
// connectivity and backoff.
func TestScheduler_TriggerSync_skipsOfflineAndBackoff(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	backingOff := newFakeSyncer("products")
	backingOff.ready = false
	s := createTestScheduler(t, tasks, backingOff)

	s.SetOnlineStatus(false)
	s.TriggerSync(context.Background())
	time.Sleep(50 * time.Millisecond)
	if tasks.callCount() != 0 {
		t.Errorf("offline calls = %d, want 0", tasks.callCount())
	}

	s.SetOnlineStatus(true)
	if started := s.TriggerSync(context.Background()); started != 2 {
		t.Errorf("TriggerSync() = %d, want 2", started)
	}
	waitFor(t, func() bool { return tasks.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if backingOff.callCount() != 0 {
		t.Errorf("backing-off calls = %d, want 0", backingOff.callCount())
	}
}

// TestScheduler_runSync_noOverlap verifies a scheduled run never starts while the
// entity is syncing, and an explicit run goes to the engine to join it.
func TestScheduler_runSync_noOverlap(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	tasks.block = make(chan struct{})
	s := createTestScheduler(t, tasks)

	done := make(chan error, 1)
	go func() { done <- s.runSync(context.Background(), tasks, true) }()
	waitFor(t, func() bool { return tasks.callCount() == 1 })

	if err := s.runSync(context.Background(), tasks, false); err != nil {
		t.Errorf("overlapping runSync() error = %v", err)
	}
	if tasks.callCount() != 1 {
		t.Errorf("scheduled overlap calls = %d, want 1", tasks.callCount())
	}
	if !s.GetStatus().Entities[0].InProgress {
		t.Error("InProgress = false during a run")
	}

	joined := make(chan error, 1)
	go func() { joined <- s.runSync(context.Background(), tasks, true) }()
	waitFor(t, func() bool { return tasks.callCount() == 2 })

	close(tasks.block)
	if err := <-done; err != nil {
		t.Errorf("runSync() error = %v", err)
	}
	if err := <-joined; err != nil {
		t.Errorf("explicit runSync() error = %v", err)
	}
	if s.GetStatus().Entities[0].InProgress {
		t.Error("InProgress = true after the run")
	}
}

// TestScheduler_SetOnlineStatus_triggersOnReconnect verifies reconnecting syncs.
func TestScheduler_SetOnlineStatus_triggersOnReconnect(t *testing.T) {
	tasks := newFakeSyncer("tasks")
	s := createTestScheduler(t, tasks)
	s.Start(context.Background())
	defer s.Stop()

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)
	waitFor(t, func() bool { return tasks.callCount() == 1 })
}
