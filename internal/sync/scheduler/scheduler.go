// Package scheduler runs background batch syncs for every enabled entity type.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// Scheduler manages background sync operations. Each entity type is an independent
// cron job; a job is skipped while offline, while its previous run is still going and
// while its engine's backoff window is open.
type Scheduler struct {
	syncers     []syncpkg.Syncer
	cron        *cron.Cron
	schedule    cron.Schedule
	spec        string
	syncTimeout time.Duration
	now         func() time.Time

	mu           sync.RWMutex
	ctx          context.Context
	isRunning    bool
	stopped      bool
	isOnline     bool
	lastSyncTime time.Time
	inProgress   map[string]bool
	wg           sync.WaitGroup
}

// ErrStopped is returned by explicit syncs requested after Stop.
var ErrStopped = apperrors.New(apperrors.ErrInvalid, "sync scheduler is stopped")

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Schedule    string        // cron spec or descriptor (default: "@every 15m")
	SyncTimeout time.Duration // upper bound for one entity sync (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Schedule:    "@every 15m",
		SyncTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. The schedule is validated up front.
func NewScheduler(syncers []syncpkg.Syncer, config *SchedulerConfig) (*Scheduler, error) {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	spec := config.Schedule
	if spec == "" {
		spec = DefaultSchedulerConfig().Schedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("invalid sync schedule %q", spec), err)
	}
	timeout := config.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultSchedulerConfig().SyncTimeout
	}

	return &Scheduler{
		syncers:     syncers,
		cron:        cron.New(),
		schedule:    schedule,
		spec:        spec,
		syncTimeout: timeout,
		now:         time.Now,
		isOnline:    true, // Assume online initially
		inProgress:  make(map[string]bool),
	}, nil
}

// Start registers one job per entity and starts the cron runner. Jobs use ctx as
// their parent context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopped = false
	s.ctx = ctx
	s.mu.Unlock()

	for _, syncer := range s.syncers {
		syncer := syncer
		entryID := s.cron.Schedule(s.schedule, cron.FuncJob(func() {
			s.runSync(ctx, syncer, false)
		}))
		logging.Debug("Scheduled sync job", map[string]interface{}{
			"entity":   syncer.Entity(),
			"schedule": s.spec,
			"entry_id": int(entryID),
		})
	}
	s.cron.Start()

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"schedule": s.spec,
		"entities": len(s.syncers),
	})
}

// Stop stops the scheduler and waits for running syncs to finish. No sync starts
// after Stop has been called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler. Coming back online
// triggers a sync of every entity.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	ctx := s.ctx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline && running {
		s.TriggerSync(ctx)
	}
}

// begin registers a run with the wait group and marks entity in progress. It reports
// false when a run of entity is already going, and fails once Stop has been called.
// Callers that get a nil error must call s.wg.Done.
func (s *Scheduler) begin(entity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, ErrStopped
	}
	s.wg.Add(1)
	if s.inProgress[entity] {
		return false, nil
	}
	s.inProgress[entity] = true
	return true, nil
}

func (s *Scheduler) end(entity string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, entity)
	if ok {
		s.lastSyncTime = s.now()
	}
}

// runSync executes one entity sync. Explicit runs (force) bypass the backoff window.
func (s *Scheduler) runSync(ctx context.Context, syncer syncpkg.Syncer, force bool) error {
	entity := syncer.Entity()
	if !force {
		if !s.IsOnline() {
			logging.Debug("Skipping sync - scheduler is offline", map[string]interface{}{"entity": entity})
			return nil
		}
		if next := syncer.NextAttempt(); !syncer.Ready(s.now()) {
			logging.Debug("Skipping sync - backing off", map[string]interface{}{
				"entity":       entity,
				"next_attempt": next.Format(time.RFC3339),
			})
			return nil
		}
	}
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	started, err := s.begin(entity)
	if err != nil {
		if !force {
			logging.Debug("Skipping sync - scheduler is stopped", map[string]interface{}{"entity": entity})
			return nil
		}
		return err
	}
	defer s.wg.Done()

	if !started {
		if !force {
			logging.Debug("Sync already in progress, skipping", map[string]interface{}{"entity": entity})
			return nil
		}
		// The engine joins the running sync and returns its outcome.
		_, err := syncer.SyncSinceLast(syncCtx)
		return err
	}

	_, err = syncer.SyncSinceLast(syncCtx)
	s.end(entity, err == nil)
	return err
}

// TriggerSync starts a sync of every entity not already syncing and returns how many
// were started. It does not wait.
func (s *Scheduler) TriggerSync(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return 0
	}
	started := 0
	for _, syncer := range s.syncers {
		s.mu.RLock()
		busy := s.inProgress[syncer.Entity()]
		s.mu.RUnlock()
		if busy {
			continue
		}
		started++
		go func(syncer syncpkg.Syncer) {
			_ = s.runSync(ctx, syncer, false)
		}(syncer)
	}
	return started
}

// SyncNow syncs every entity concurrently and waits for completion. It bypasses the
// backoff window and the online flag.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	return s.syncAll(ctx, s.syncers)
}

// SyncEntity syncs one entity type and waits.
func (s *Scheduler) SyncEntity(ctx context.Context, entity string) error {
	for _, syncer := range s.syncers {
		if syncer.Entity() == entity {
			return s.syncAll(ctx, []syncpkg.Syncer{syncer})
		}
	}
	return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("entity %q is not enabled", entity))
}

func (s *Scheduler) syncAll(ctx context.Context, syncers []syncpkg.Syncer) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, syncer := range syncers {
		wg.Add(1)
		go func(syncer syncpkg.Syncer) {
			defer wg.Done()
			if err := s.runSync(ctx, syncer, true); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", syncer.Entity(), err))
				mu.Unlock()
			}
		}(syncer)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// EntityStatus is the sync status of one entity type.
type EntityStatus struct {
	Entity      string     `json:"entity"`
	Status      string     `json:"status"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	NextAttempt *time.Time `json:"next_attempt,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// SchedulerStatus is the current status of the scheduler.
type SchedulerStatus struct {
	IsRunning    bool           `json:"is_running"`
	IsOnline     bool           `json:"is_online"`
	Schedule     string         `json:"schedule"`
	LastSyncTime *time.Time     `json:"last_sync_time,omitempty"`
	Entities     []EntityStatus `json:"entities"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning: s.isRunning,
		IsOnline:  s.isOnline,
		Schedule:  s.spec,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	inProgress := make(map[string]bool, len(s.inProgress))
	for k, v := range s.inProgress {
		inProgress[k] = v
	}
	s.mu.RUnlock()

	for _, syncer := range s.syncers {
		es := EntityStatus{
			Entity:     syncer.Entity(),
			Status:     string(syncer.Status()),
			LastSync:   syncer.LastSync(),
			InProgress: inProgress[syncer.Entity()],
		}
		if err := syncer.LastError(); err != nil {
			es.LastError = err.Error()
		}
		if next := syncer.NextAttempt(); !next.IsZero() {
			es.NextAttempt = &next
		}
		status.Entities = append(status.Entities, es)
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
