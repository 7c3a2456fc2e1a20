package db

import (
	"context"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// RecordStore defines local persistence for one entity type.
// This interface allows fakes in tests and keeps consumers off the SQL details.
type RecordStore[T any] interface {
	// Table returns the entity table name.
	Table() string

	Get(ctx context.Context, id int64) (*T, bool, error)
	GetByLocalID(ctx context.Context, localID string) (*T, bool, error)
	GetAll(ctx context.Context) ([]*T, error)
	Query(ctx context.Context, f Filter) ([]*T, error)

	Upsert(ctx context.Context, rec *T) error
	UpsertAll(ctx context.Context, recs []*T) error
	MarkDeleted(ctx context.Context, localID string) error
	SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus) error
	MarkSynced(ctx context.Context, localIDs []string) (int, error)
	ConfirmDeleted(ctx context.Context, ids []int64) (int, error)
	PhysicallyPurge(ctx context.Context) (int, error)
	Purge(ctx context.Context, localIDs ...string) (int, error)

	PendingSync(ctx context.Context) ([]*T, error)
	PendingCount(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)

	// ApplyDiff applies a server diff atomically.
	ApplyDiff(ctx context.Context, ch Changes[T], opts ApplyOptions) (ApplyResult, error)
}

// SyncStateRepository defines operations for sync bookkeeping persistence.
type SyncStateRepository interface {
	Load(ctx context.Context, entity string) (*models.SyncState, error)
	List(ctx context.Context) ([]*models.SyncState, error)
	Save(ctx context.Context, st *models.SyncState) error
	RecordSync(ctx context.Context, entity string, lastSync int64) error
	RecordFailure(ctx context.Context, entity, message string) (int, error)
	RecordFetch(ctx context.Context, entity string, at int64) error
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
	ListConflictLogs(ctx context.Context, entity string, limit int) ([]*models.ConflictLog, error)
}

// Ensure the concrete stores implement the interfaces at compile time.
var (
	_ RecordStore[models.Task]           = (*Store[models.Task, *models.Task])(nil)
	_ RecordStore[models.TaskCompletion] = (*Store[models.TaskCompletion, *models.TaskCompletion])(nil)
	_ RecordStore[models.LabelTemplate]  = (*Store[models.LabelTemplate, *models.LabelTemplate])(nil)
	_ RecordStore[models.Product]        = (*Store[models.Product, *models.Product])(nil)
	_ RecordStore[models.Checkpoint]     = (*Store[models.Checkpoint, *models.Checkpoint])(nil)
	_ SyncStateRepository                = (*SyncStateStore)(nil)
	_ ConflictLogRepository              = (*ConflictLogStore)(nil)
)
