package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// SyncStateStore persists per-entity sync bookkeeping in sync_state.
type SyncStateStore struct {
	db  *sql.DB
	now func() int64
}

// NewSyncStateStore creates a SyncStateStore.
func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db, now: models.NowMillis}
}

// Load returns the state of entity. An entity never synced gets a zero state.
func (s *SyncStateStore) Load(ctx context.Context, entity string) (*models.SyncState, error) {
	st := &models.SyncState{Entity: entity}
	err := s.db.QueryRowContext(ctx, `
	SELECT last_sync, last_fetch, last_error, consecutive_failures, updated_at
	FROM sync_state WHERE entity = ?`, entity).Scan(
		&st.LastSync, &st.LastFetch, &st.LastError, &st.ConsecutiveFailures, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, apperrors.Storage("load sync state", err)
	}
	return st, nil
}

// List returns the state of every entity that has one.
func (s *SyncStateStore) List(ctx context.Context) ([]*models.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT entity, last_sync, last_fetch, last_error, consecutive_failures, updated_at
	FROM sync_state ORDER BY entity`)
	if err != nil {
		return nil, apperrors.Storage("list sync state", err)
	}
	defer rows.Close()

	var states []*models.SyncState
	for rows.Next() {
		st := &models.SyncState{}
		if err := rows.Scan(&st.Entity, &st.LastSync, &st.LastFetch, &st.LastError,
			&st.ConsecutiveFailures, &st.UpdatedAt); err != nil {
			return nil, apperrors.Storage("list sync state", err)
		}
		states = append(states, st)
	}
	return states, apperrors.Storage("list sync state", rows.Err())
}

// Save writes the whole state row.
func (s *SyncStateStore) Save(ctx context.Context, st *models.SyncState) error {
	st.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_state (entity, last_sync, last_fetch, last_error, consecutive_failures, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity) DO UPDATE SET
		last_sync = excluded.last_sync,
		last_fetch = excluded.last_fetch,
		last_error = excluded.last_error,
		consecutive_failures = excluded.consecutive_failures,
		updated_at = excluded.updated_at`,
		st.Entity, st.LastSync, st.LastFetch, st.LastError, st.ConsecutiveFailures, st.UpdatedAt)
	return apperrors.Storage("save sync state", err)
}

// RecordSync stores a successful batch sync and clears the failure streak.
func (s *SyncStateStore) RecordSync(ctx context.Context, entity string, lastSync int64) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_state (entity, last_sync, last_error, consecutive_failures, updated_at)
	VALUES (?, ?, '', 0, ?)
	ON CONFLICT(entity) DO UPDATE SET
		last_sync = excluded.last_sync,
		last_error = '',
		consecutive_failures = 0,
		updated_at = excluded.updated_at`,
		entity, lastSync, s.now())
	return apperrors.Storage("record sync", err)
}

// RecordFailure stores a failed batch sync and returns the new failure streak.
func (s *SyncStateStore) RecordFailure(ctx context.Context, entity, message string) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx, `
	INSERT INTO sync_state (entity, last_error, consecutive_failures, updated_at)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(entity) DO UPDATE SET
		last_error = excluded.last_error,
		consecutive_failures = consecutive_failures + 1,
		updated_at = excluded.updated_at
	RETURNING consecutive_failures`,
		entity, message, s.now()).Scan(&failures)
	return failures, apperrors.Storage("record failure", err)
}

// RecordFetch stores the time of a successful list fetch.
func (s *SyncStateStore) RecordFetch(ctx context.Context, entity string, at int64) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_state (entity, last_fetch, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(entity) DO UPDATE SET
		last_fetch = excluded.last_fetch,
		updated_at = excluded.updated_at`,
		entity, at, s.now())
	return apperrors.Storage("record fetch", err)
}
