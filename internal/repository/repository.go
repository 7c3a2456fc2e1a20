// Package repository is the public API of the sync core: one generic Repository per
// entity type composing the local store, the remote gateway, the cache-first read
// policy and the batch sync engine.
package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/resource"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/uuid"
)

// Options configures a Repository.
type Options struct {
	// CacheTTL is how long a list fetch stays fresh. Zero never expires.
	CacheTTL time.Duration
	// OnPendingChange is called after local writes with the new pending count.
	OnPendingChange func(entity string, pending int)
}

// Repository exposes reads, optimistic writes and sync for one entity type. Local
// storage failures are returned; remote failures are logged and leave records pending.
type Repository[T any, P models.Entity[T]] struct {
	store   db.RecordStore[T]
	gateway remote.Gateway[T]
	engine  syncpkg.Syncer
	states  db.SyncStateRepository
	oracle  connectivity.Oracle
	opts    Options
	now     func() time.Time
}

// New creates a Repository.
func New[T any, P models.Entity[T]](store db.RecordStore[T], gateway remote.Gateway[T], engine syncpkg.Syncer,
	states db.SyncStateRepository, oracle connectivity.Oracle, opts Options) *Repository[T, P] {
	if oracle == nil {
		oracle = connectivity.Static(true)
	}
	return &Repository[T, P]{
		store:   store,
		gateway: gateway,
		engine:  engine,
		states:  states,
		oracle:  oracle,
		opts:    opts,
		now:     time.Now,
	}
}

// Entity returns the entity table name.
func (r *Repository[T, P]) Entity() string {
	return r.store.Table()
}

// Syncer returns the entity's sync engine.
func (r *Repository[T, P]) Syncer() syncpkg.Syncer {
	return r.engine
}

// =====================================================
// Reads
// =====================================================

// List returns every active record through the cache-first read policy.
func (r *Repository[T, P]) List(ctx context.Context, forceRefresh bool) <-chan resource.State[[]*T] {
	return r.Query(ctx, db.Filter{}, forceRefresh)
}

// Query returns the records matching f. The remote is called when forced, when nothing
// has been cached yet, or when the last list fetch is older than the cache TTL. Fetched
// rows never overwrite local pending edits.
func (r *Repository[T, P]) Query(ctx context.Context, f db.Filter, forceRefresh bool) <-chan resource.State[[]*T] {
	var state *models.SyncState
	filters := remoteFilters(f)

	return resource.Run(ctx, r.oracle, resource.Source[[]*T, *remote.Diff[T]]{
		Name: r.Entity(),
		ReadLocal: func(ctx context.Context) ([]*T, bool, error) {
			recs, err := r.store.Query(ctx, f)
			if err != nil {
				return nil, false, err
			}
			st, err := r.states.Load(ctx, r.Entity())
			if err != nil {
				return nil, false, err
			}
			state = st
			return recs, len(recs) > 0 || st.LastFetch > 0, nil
		},
		ShouldFetch: func(cached []*T, ok bool) bool {
			return forceRefresh || !ok || !state.FetchedWithin(r.opts.CacheTTL, r.now())
		},
		Fetch: func(ctx context.Context) (*remote.Diff[T], error) {
			return r.gateway.FetchAll(ctx, filters)
		},
		Persist: func(ctx context.Context, diff *remote.Diff[T]) error {
			res, err := r.store.ApplyDiff(ctx, db.Changes[T]{
				Added:   diff.Added,
				Updated: diff.Updated,
				Deleted: diff.Deleted,
			}, db.ApplyOptions{PreservePending: true})
			if err != nil {
				return err
			}
			if res.Skipped > 0 {
				logging.Debug("Kept local pending edits over fetched rows", map[string]interface{}{
					"entity":  r.Entity(),
					"skipped": res.Skipped,
				})
			}
			if len(filters) > 0 {
				return nil
			}
			return r.states.RecordFetch(ctx, r.Entity(), r.now().UnixMilli())
		},
	})
}

// GetByID returns the record with server id id through the cache-first read policy.
func (r *Repository[T, P]) GetByID(ctx context.Context, id int64, forceRefresh bool) <-chan resource.State[*T] {
	return resource.Run(ctx, r.oracle, resource.Source[*T, *T]{
		Name: r.Entity() + "/" + strconv.FormatInt(id, 10),
		ReadLocal: func(ctx context.Context) (*T, bool, error) {
			return r.store.Get(ctx, id)
		},
		ShouldFetch: func(cached *T, ok bool) bool {
			return forceRefresh || !ok
		},
		Fetch: func(ctx context.Context) (*T, error) {
			return r.gateway.Fetch(ctx, id)
		},
		Persist: func(ctx context.Context, rec *T) error {
			_, err := r.store.ApplyDiff(ctx, db.Changes[T]{Updated: []*T{rec}}, db.ApplyOptions{PreservePending: true})
			return err
		},
	})
}

// GetByLocalID reads one record from the local store only.
func (r *Repository[T, P]) GetByLocalID(ctx context.Context, localID string) (*T, bool, error) {
	return r.store.GetByLocalID(ctx, localID)
}

// PendingCount returns the number of records waiting to be synced.
func (r *Repository[T, P]) PendingCount(ctx context.Context) (int, error) {
	return r.store.PendingCount(ctx)
}

// Pending returns the records waiting to be synced, oldest change first.
func (r *Repository[T, P]) Pending(ctx context.Context) ([]*T, error) {
	return r.store.PendingSync(ctx)
}

// =====================================================
// Writes
// =====================================================

// Create stores rec as pending_upload and, when online, pushes it immediately. The
// returned record is the server copy on success and the local pending copy otherwise.
func (r *Repository[T, P]) Create(ctx context.Context, rec *T) (*T, error) {
	m := P(rec).Meta()
	m.ID = 0
	m.LocalID = uuid.Ensure(m.LocalID)
	m.CreatedAt, m.UpdatedAt = 0, 0
	m.Touch()
	m.SetStatus(models.SyncStatusPendingUpload)

	if err := r.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	r.pendingChanged(ctx)

	return r.push(ctx, rec)
}

// Update stores rec as pending_update and, when online, pushes it immediately. A record
// the server has never seen stays pending_upload and is pushed as a create.
func (r *Repository[T, P]) Update(ctx context.Context, rec *T) (*T, error) {
	m := P(rec).Meta()
	cur, err := r.current(ctx, m)
	if err != nil {
		return nil, err
	}
	cm := P(cur).Meta()
	if cm.SyncStatus == models.SyncStatusPendingDelete {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("%s %s is deleted", r.Entity(), cm.LocalID))
	}

	m.LocalID, m.ID, m.CreatedAt = cm.LocalID, cm.ID, cm.CreatedAt
	m.Touch()
	if m.UpdatedAt <= cm.UpdatedAt {
		m.UpdatedAt = cm.UpdatedAt + 1
	}
	if m.ID == 0 {
		m.SetStatus(models.SyncStatusPendingUpload)
	} else {
		m.SetStatus(models.SyncStatusPendingUpdate)
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	r.pendingChanged(ctx)

	return r.push(ctx, rec)
}

// Delete marks the record pending_delete and, when online, deletes it on the server.
// confirmed is true once the record is gone locally: immediately for a record the
// server never saw, after server confirmation otherwise.
func (r *Repository[T, P]) Delete(ctx context.Context, localID string) (confirmed bool, err error) {
	cur, ok, err := r.store.GetByLocalID(ctx, localID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s %s not found", r.Entity(), localID))
	}
	id := P(cur).Meta().ID

	if id == 0 {
		if _, err := r.store.Purge(ctx, localID); err != nil {
			return false, err
		}
		r.pendingChanged(ctx)
		return true, nil
	}

	if err := r.store.MarkDeleted(ctx, localID); err != nil {
		return false, err
	}
	r.pendingChanged(ctx)

	if !r.oracle.IsAvailable() {
		return false, nil
	}
	if err := r.gateway.Delete(ctx, id); err != nil {
		r.remoteFailed("delete", localID, err)
		return false, nil
	}
	if _, err := r.store.ConfirmDeleted(ctx, []int64{id}); err != nil {
		return false, err
	}
	if _, err := r.store.PhysicallyPurge(ctx); err != nil {
		return false, err
	}
	r.pendingChanged(ctx)
	return true, nil
}

// current loads the stored row rec refers to, by server id or local id.
func (r *Repository[T, P]) current(ctx context.Context, m *models.SyncMeta) (*T, error) {
	var (
		cur *T
		ok  bool
		err error
	)
	switch {
	case m.LocalID != "":
		cur, ok, err = r.store.GetByLocalID(ctx, m.LocalID)
	case m.ID > 0:
		cur, ok, err = r.store.Get(ctx, m.ID)
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, "record has neither id nor local_id")
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s record not found", r.Entity()))
	}
	return cur, nil
}

// push sends a locally stored pending record to the server when online.
func (r *Repository[T, P]) push(ctx context.Context, rec *T) (*T, error) {
	if !r.oracle.IsAvailable() {
		return rec, nil
	}
	m := P(rec).Meta()
	sent := *m

	var (
		server *T
		err    error
	)
	if m.ID == 0 {
		server, err = r.gateway.Create(ctx, rec)
	} else {
		server, err = r.gateway.Update(ctx, m.ID, rec)
	}
	if err != nil {
		r.remoteFailed("push", m.LocalID, err)
		return rec, nil
	}
	return r.confirm(ctx, &sent, server)
}

// confirm stores the server's copy of a pushed record. A record edited or deleted
// locally after it was sent keeps its pending state and only adopts the server id.
func (r *Repository[T, P]) confirm(ctx context.Context, sent *models.SyncMeta, server *T) (*T, error) {
	sm := P(server).Meta()
	cur, ok, err := r.store.GetByLocalID(ctx, sent.LocalID)
	if err != nil {
		return nil, err
	}

	if !ok {
		// Purged locally while the create was in flight: delete it on the next sync.
		sm.LocalID = sent.LocalID
		sm.SetStatus(models.SyncStatusPendingDelete)
		if err := r.store.Upsert(ctx, server); err != nil {
			return nil, err
		}
		r.pendingChanged(ctx)
		return server, nil
	}

	cm := P(cur).Meta()
	if cm.UpdatedAt != sent.UpdatedAt || cm.SyncStatus != sent.SyncStatus {
		if cm.ID == 0 {
			cm.ID = sm.ID
			if cm.SyncStatus == models.SyncStatusPendingUpload {
				cm.SetStatus(models.SyncStatusPendingUpdate)
			}
			if err := r.store.Upsert(ctx, cur); err != nil {
				return nil, err
			}
		}
		return cur, nil
	}

	sm.LocalID = sent.LocalID
	if sm.CreatedAt == 0 {
		sm.CreatedAt = sent.CreatedAt
	}
	sm.SetStatus(models.SyncStatusSynced)
	if err := r.store.Upsert(ctx, server); err != nil {
		return nil, err
	}
	r.pendingChanged(ctx)
	return server, nil
}

func (r *Repository[T, P]) remoteFailed(op, localID string, err error) {
	logging.Warn("Immediate push failed, change stays pending", map[string]interface{}{
		"entity":   r.Entity(),
		"op":       op,
		"local_id": localID,
		"code":     string(apperrors.CodeOf(err)),
		"error":    err.Error(),
	})
}

func (r *Repository[T, P]) pendingChanged(ctx context.Context) {
	if r.opts.OnPendingChange == nil {
		return
	}
	n, err := r.store.PendingCount(ctx)
	if err != nil {
		return
	}
	r.opts.OnPendingChange(r.Entity(), n)
}

// =====================================================
// Sync
// =====================================================

// SyncNow runs one batch sync against lastSync.
func (r *Repository[T, P]) SyncNow(ctx context.Context, lastSync int64) SyncResult {
	res, err := r.engine.Sync(ctx, lastSync)
	r.pendingChanged(ctx)
	return newSyncResult(res, err)
}

// Sync runs one batch sync against the persisted last-sync timestamp.
func (r *Repository[T, P]) Sync(ctx context.Context) SyncResult {
	res, err := r.engine.SyncSinceLast(ctx)
	r.pendingChanged(ctx)
	return newSyncResult(res, err)
}

// remoteFilters maps the query predicates the server understands.
func remoteFilters(f db.Filter) remote.Filters {
	filters := remote.Filters{}
	if f.Status != "" {
		filters["status"] = f.Status
	}
	if f.From > 0 {
		filters["from"] = strconv.FormatInt(f.From, 10)
	}
	if f.To > 0 {
		filters["to"] = strconv.FormatInt(f.To, 10)
	}
	if f.Text != "" {
		filters["q"] = f.Text
	}
	return filters
}
