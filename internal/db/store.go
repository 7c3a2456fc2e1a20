package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/uuid"
)

// recordColumns are the columns read back into a record. Sync columns override
// whatever the JSON payload says.
const recordColumns = "local_id, id, sync_status, pending_changes, created_at, updated_at, acked_at, data"

// queryer is implemented by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store is the local store for one entity type. Each row keeps the full record as JSON
// next to the sync columns and the index columns extracted by Indexed().
//
// Rows are keyed by local id. The server id is unique among rows that have one.
type Store[T any, P models.Entity[T]] struct {
	db    *sql.DB
	table string
	now   func() int64

	// Prepared statement cache for the single-row lookups
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a store for the entity table of T.
func NewStore[T any, P models.Entity[T]](db *sql.DB) *Store[T, P] {
	var zero T
	return &Store[T, P]{
		db:    db,
		table: P(&zero).TableName(),
		now:   models.NowMillis,
	}
}

// Table returns the entity table name.
func (s *Store[T, P]) Table() string {
	return s.table
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store[T, P]) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If already stored by another goroutine, use existing
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store[T, P]) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// fail wraps err as a local storage failure unless it already carries a code.
func (s *Store[T, P]) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Storage(s.table+": "+op, err)
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store[T, P]) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return s.fail(op, err)
	}
	return s.fail(op, tx.Commit())
}

func (s *Store[T, P]) scan(row rowScanner) (*T, error) {
	var (
		meta   models.SyncMeta
		status string
		data   []byte
	)
	if err := row.Scan(&meta.LocalID, &meta.ID, &status, &meta.PendingChanges,
		&meta.CreatedAt, &meta.UpdatedAt, &meta.AckedAt, &data); err != nil {
		return nil, err
	}

	rec := new(T)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s row %s: %w", s.table, meta.LocalID, err)
	}
	meta.SyncStatus = models.SyncStatus(status)
	*P(rec).Meta() = meta
	return rec, nil
}

func (s *Store[T, P]) scanAll(rows *sql.Rows) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// getOne reads a single row. Outside a transaction the statement comes from the cache.
func (s *Store[T, P]) getOne(ctx context.Context, tx *sql.Tx, where string, arg any) (*T, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", recordColumns, s.table, where)

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, arg)
	} else {
		stmt, err := s.prepareStmt(ctx, query)
		if err != nil {
			return nil, false, err
		}
		row = stmt.QueryRowContext(ctx, arg)
	}

	rec, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// =====================================================
// Reads
// =====================================================

// Get returns the record with server id id. The bool is false when no row has it.
func (s *Store[T, P]) Get(ctx context.Context, id int64) (*T, bool, error) {
	if id <= 0 {
		return nil, false, nil
	}
	rec, ok, err := s.getOne(ctx, nil, "id = ?", id)
	return rec, ok, s.fail("get", err)
}

// GetByLocalID returns the record keyed by localID.
func (s *Store[T, P]) GetByLocalID(ctx context.Context, localID string) (*T, bool, error) {
	rec, ok, err := s.getOne(ctx, nil, "local_id = ?", localID)
	return rec, ok, s.fail("get by local id", err)
}

// GetAll returns every active record, newest first. Rows pending deletion are hidden.
func (s *Store[T, P]) GetAll(ctx context.Context) ([]*T, error) {
	return s.Query(ctx, Filter{})
}

// Query returns the records matching f, newest first.
func (s *Store[T, P]) Query(ctx context.Context, f Filter) ([]*T, error) {
	where, args := f.where()
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY updated_at DESC, local_id", recordColumns, s.table, where)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	recs, err := s.scanAll(rows)
	return recs, s.fail("query", err)
}

// PendingSync returns every record whose status is not synced, oldest change first.
func (s *Store[T, P]) PendingSync(ctx context.Context) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE pending_changes = 1 ORDER BY updated_at ASC, local_id",
		recordColumns, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.fail("pending sync", err)
	}
	recs, err := s.scanAll(rows)
	return recs, s.fail("pending sync", err)
}

// PendingCount returns the number of records that are not synced.
func (s *Store[T, P]) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE pending_changes = 1", s.table)).Scan(&n)
	return n, s.fail("pending count", err)
}

// CountByStatus returns the number of rows per sync status.
func (s *Store[T, P]) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status", s.table))
	if err != nil {
		return nil, s.fail("count by status", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, s.fail("count by status", err)
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, s.fail("count by status", rows.Err())
}

// =====================================================
// Writes
// =====================================================

// Upsert inserts or replaces rec. A row already holding rec's server id is replaced,
// otherwise the row with rec's local id; a record carrying neither gets a new local id.
// The record's identity fields are updated in place.
func (s *Store[T, P]) Upsert(ctx context.Context, rec *T) error {
	return s.withTx(ctx, "upsert", func(tx *sql.Tx) error {
		return s.upsertTx(ctx, tx, rec)
	})
}

// UpsertAll upserts recs in one transaction.
func (s *Store[T, P]) UpsertAll(ctx context.Context, recs []*T) error {
	if len(recs) == 0 {
		return nil
	}
	return s.withTx(ctx, "upsert all", func(tx *sql.Tx) error {
		for _, rec := range recs {
			if err := s.upsertTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveIdentity fills m.LocalID (and m.ID, when known locally) from existing rows.
func (s *Store[T, P]) resolveIdentity(ctx context.Context, q queryer, m *models.SyncMeta) error {
	if m.ID > 0 {
		var localID string
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT local_id FROM %s WHERE id = ?", s.table), m.ID).Scan(&localID)
		if err == nil {
			m.LocalID = localID
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	if !uuid.IsValid(m.LocalID) {
		m.LocalID = uuid.New()
		return nil
	}
	if m.ID == 0 {
		var id int64
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT id FROM %s WHERE local_id = ?", s.table), m.LocalID).Scan(&id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		m.ID = id
	}
	return nil
}

func (s *Store[T, P]) upsertTx(ctx context.Context, tx *sql.Tx, rec *T) error {
	m := P(rec).Meta()
	if err := s.resolveIdentity(ctx, tx, m); err != nil {
		return err
	}
	return s.writeRow(ctx, tx, rec)
}

// writeRow stores rec under its already-resolved local id.
func (s *Store[T, P]) writeRow(ctx context.Context, tx *sql.Tx, rec *T) error {
	m := P(rec).Meta()
	if m.SyncStatus == "" {
		if m.ID > 0 {
			m.SyncStatus = models.SyncStatusSynced
		} else {
			m.SyncStatus = models.SyncStatusPendingUpload
		}
	}
	m.SetStatus(m.SyncStatus)
	if m.ID > 0 {
		m.AckedAt = 0
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = s.now()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = m.UpdatedAt
	}
	if err := m.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, s.table+": invalid record", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	idx := P(rec).Indexed()

	query := fmt.Sprintf(`
	INSERT INTO %s (local_id, id, sync_status, pending_changes, delete_confirmed,
		created_at, updated_at, acked_at, entity_status, entity_date, search_text, data)
	VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		id = excluded.id,
		sync_status = excluded.sync_status,
		pending_changes = excluded.pending_changes,
		delete_confirmed = 0,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		acked_at = excluded.acked_at,
		entity_status = excluded.entity_status,
		entity_date = excluded.entity_date,
		search_text = excluded.search_text,
		data = excluded.data
	`, s.table)
	_, err = tx.ExecContext(ctx, query, m.LocalID, m.ID, string(m.SyncStatus), m.PendingChanges,
		m.CreatedAt, m.UpdatedAt, m.AckedAt, idx.Status, idx.Date, idx.Text, string(data))
	return err
}

// MarkDeleted flags the record pending_delete and bumps updated_at. Any earlier pending
// upload or update is superseded.
func (s *Store[T, P]) MarkDeleted(ctx context.Context, localID string) error {
	query := fmt.Sprintf(`
	UPDATE %s SET sync_status = ?, pending_changes = 1, delete_confirmed = 0, updated_at = ?
	WHERE local_id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(models.SyncStatusPendingDelete), s.now(), localID)
	if err != nil {
		return s.fail("mark deleted", err)
	}
	return s.requireRow(res, localID)
}

// SetSyncStatus sets the sync status of one record.
func (s *Store[T, P]) SetSyncStatus(ctx context.Context, localID string, status models.SyncStatus) error {
	if !status.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown sync status %q", status))
	}
	query := fmt.Sprintf(`
	UPDATE %s SET sync_status = ?, pending_changes = ?, delete_confirmed = 0
	WHERE local_id = ? AND (id > 0 OR ? != 'synced')`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(status), status.Pending(), localID, string(status))
	if err != nil {
		return s.fail("set sync status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && status == models.SyncStatusSynced {
		if _, ok, _ := s.GetByLocalID(ctx, localID); ok {
			return apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("%s %s: cannot mark synced without a server id", s.table, localID))
		}
	}
	return s.requireRow(res, localID)
}

func (s *Store[T, P]) requireRow(res sql.Result, localID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("rows affected", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s %s not found", s.table, localID))
	}
	return nil
}

// MarkSynced marks the given records synced and returns how many changed. Records
// without a server id, and records deleted in the meantime, are left alone.
func (s *Store[T, P]) MarkSynced(ctx context.Context, localIDs []string) (int, error) {
	if len(localIDs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
	UPDATE %s SET sync_status = 'synced', pending_changes = 0
	WHERE id > 0 AND sync_status IN ('pending_upload', 'pending_update')
	AND local_id IN (%s)`, s.table, placeholders(len(localIDs)))
	res, err := s.db.ExecContext(ctx, query, stringArgs(localIDs)...)
	if err != nil {
		return 0, s.fail("mark synced", err)
	}
	n, err := res.RowsAffected()
	return int(n), s.fail("mark synced", err)
}

// ConfirmDeleted records that the server has removed the given ids.
func (s *Store[T, P]) ConfirmDeleted(ctx context.Context, ids []int64) (int, error) {
	n, err := s.confirmDeleted(ctx, s.db, ids)
	return n, s.fail("confirm deleted", err)
}

func (s *Store[T, P]) confirmDeleted(ctx context.Context, q queryer, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
	UPDATE %s SET delete_confirmed = 1
	WHERE sync_status = 'pending_delete' AND id IN (%s)`, s.table, placeholders(len(ids)))
	res, err := q.ExecContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PhysicallyPurge removes pending_delete rows that the server confirmed or that never
// reached the server, and returns how many were removed.
func (s *Store[T, P]) PhysicallyPurge(ctx context.Context) (int, error) {
	n, err := s.purgeDeleted(ctx, s.db)
	return n, s.fail("purge", err)
}

func (s *Store[T, P]) purgeDeleted(ctx context.Context, q queryer) (int, error) {
	query := fmt.Sprintf(`
	DELETE FROM %s WHERE sync_status = 'pending_delete' AND (delete_confirmed = 1 OR id = 0)`, s.table)
	res, err := q.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Purge removes the given rows regardless of status.
func (s *Store[T, P]) Purge(ctx context.Context, localIDs ...string) (int, error) {
	if len(localIDs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE local_id IN (%s)", s.table, placeholders(len(localIDs)))
	res, err := s.db.ExecContext(ctx, query, stringArgs(localIDs)...)
	if err != nil {
		return 0, s.fail("purge", err)
	}
	n, err := res.RowsAffected()
	return int(n), s.fail("purge", err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
