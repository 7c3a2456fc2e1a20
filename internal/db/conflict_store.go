package db

import (
	"context"
	"database/sql"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// ConflictLogStore persists server-wins conflict entries.
type ConflictLogStore struct {
	db *sql.DB
}

// NewConflictLogStore creates a ConflictLogStore.
func NewConflictLogStore(db *sql.DB) *ConflictLogStore {
	return &ConflictLogStore{db: db}
}

// CreateConflictLog creates a new conflict log entry.
func (s *ConflictLogStore) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	return apperrors.Storage("create conflict log", insertConflictLog(ctx, s.db, log))
}

func insertConflictLog(ctx context.Context, q queryer, log *models.ConflictLog) error {
	if log.DetectedAt == 0 {
		log.DetectedAt = models.NowMillis()
	}
	if log.Resolution == "" {
		log.Resolution = models.ResolutionServerWins
	}
	res, err := q.ExecContext(ctx, `
	INSERT INTO conflict_log (entity, local_id, record_id, local_status, local_updated_at,
		remote_updated_at, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.Entity, log.LocalID, log.RecordID, log.LocalStatus, log.LocalUpdatedAt,
		log.RemoteUpdatedAt, log.Resolution, log.DetectedAt)
	if err != nil {
		return err
	}
	log.ID, err = res.LastInsertId()
	return err
}

// ListConflictLogs returns the newest entries for entity, or for all entities when
// entity is empty.
func (s *ConflictLogStore) ListConflictLogs(ctx context.Context, entity string, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, entity, local_id, record_id, local_status, local_updated_at,
		remote_updated_at, resolution, detected_at
	FROM conflict_log WHERE (? = '' OR entity = ?)
	ORDER BY detected_at DESC, id DESC LIMIT ?`, entity, entity, limit)
	if err != nil {
		return nil, apperrors.Storage("list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		l := &models.ConflictLog{}
		if err := rows.Scan(&l.ID, &l.Entity, &l.LocalID, &l.RecordID, &l.LocalStatus,
			&l.LocalUpdatedAt, &l.RemoteUpdatedAt, &l.Resolution, &l.DetectedAt); err != nil {
			return nil, apperrors.Storage("list conflict logs", err)
		}
		logs = append(logs, l)
	}
	return logs, apperrors.Storage("list conflict logs", rows.Err())
}
