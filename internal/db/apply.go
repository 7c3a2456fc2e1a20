package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// Ack identifies a record the server received in a batch, as it was when it was sent.
type Ack struct {
	LocalID   string
	UpdatedAt int64
}

// Changes is a server diff together with what the client sent to obtain it.
type Changes[T any] struct {
	Added   []*T
	Updated []*T
	Deleted []int64

	// Acked are the uploads and updates the server received.
	Acked []Ack
	// DeletesSent are the server ids whose deletion the server received.
	DeletesSent []int64
}

// ConflictFunc builds the log entry for a locally pending record that a server copy is
// about to overwrite. remote is nil when the server deleted the record. Returning nil
// skips logging.
type ConflictFunc func(local, remote models.Record) *models.ConflictLog

// ApplyOptions controls how a diff is applied.
type ApplyOptions struct {
	// PreservePending leaves rows with local pending changes untouched. Plain fetches
	// set it; batch sync does not, since the server copy wins there.
	PreservePending bool
	OnConflict      ConflictFunc
}

// ApplyResult reports what ApplyDiff changed.
type ApplyResult struct {
	Added     int
	Updated   int
	Deleted   int
	Skipped   int
	Acked     int
	Conflicts int
	Purged    int
	// Adopted counts server records that carried no local id and were matched to the
	// upload they came from.
	Adopted int
	// Unconfirmed lists acknowledged uploads that still have no server id. They are
	// flagged so the next batch does not send them again.
	Unconfirmed []string
}

// ApplyDiff applies a server diff in one transaction: added and updated records land as
// synced, deleted ids are marked, confirmed and purged, then acknowledged uploads are
// marked synced unless they were edited again after being sent. A server record that
// matches no local row replaces the upload it came from (see adopt). On error nothing
// is changed.
func (s *Store[T, P]) ApplyDiff(ctx context.Context, ch Changes[T], opts ApplyOptions) (ApplyResult, error) {
	var res ApplyResult

	acked := make(map[string]int64, len(ch.Acked))
	for _, a := range ch.Acked {
		acked[a.LocalID] = a.UpdatedAt
	}

	err := s.withTx(ctx, "apply diff", func(tx *sql.Tx) error {
		res = ApplyResult{}

		candidates, err := s.claimable(ctx, tx, ch.Acked)
		if err != nil {
			return err
		}

		for _, batch := range []struct {
			recs  []*T
			count *int
		}{
			{ch.Added, &res.Added},
			{ch.Updated, &res.Updated},
		} {
			for _, rec := range batch.recs {
				adopted, err := s.adopt(ctx, tx, rec, &candidates)
				if err != nil {
					return err
				}
				applied, conflict, err := s.applyRemote(ctx, tx, rec, acked, adopted, opts)
				if err != nil {
					return err
				}
				if adopted {
					res.Adopted++
				}
				if !applied {
					res.Skipped++
					continue
				}
				*batch.count++
				if conflict {
					res.Conflicts++
				}
			}
		}

		deleted, conflicts, err := s.applyRemoteDeletes(ctx, tx, ch.Deleted, opts)
		if err != nil {
			return err
		}
		res.Deleted = deleted
		res.Conflicts += conflicts

		if _, err := s.confirmDeleted(ctx, tx, ch.DeletesSent); err != nil {
			return err
		}

		for _, a := range ch.Acked {
			ok, err := s.ackTx(ctx, tx, a)
			if err != nil {
				return err
			}
			if ok {
				res.Acked++
				continue
			}
			waiting, err := s.awaitTx(ctx, tx, a)
			if err != nil {
				return err
			}
			if waiting {
				res.Unconfirmed = append(res.Unconfirmed, a.LocalID)
			}
		}

		res.Purged, err = s.purgeDeleted(ctx, tx)
		return err
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

// applyRemote writes one server record as synced. It reports whether the record was
// written and whether it overwrote an unacknowledged local edit. An adopted record
// replaces its upload without a conflict.
func (s *Store[T, P]) applyRemote(ctx context.Context, tx *sql.Tx, rec *T, acked map[string]int64, adopted bool, opts ApplyOptions) (bool, bool, error) {
	m := P(rec).Meta()
	if err := s.resolveIdentity(ctx, tx, m); err != nil {
		return false, false, err
	}

	local, found, err := s.getOne(ctx, tx, "local_id = ?", m.LocalID)
	if err != nil {
		return false, false, err
	}

	conflict := false
	if found {
		lm := P(local).Meta()
		if lm.SyncStatus.Pending() && !adopted {
			if opts.PreservePending {
				return false, false, nil
			}
			sentAt, echoed := acked[lm.LocalID]
			if !echoed || sentAt != lm.UpdatedAt {
				conflict = true
				if err := s.logConflict(ctx, tx, opts, P(local), P(rec)); err != nil {
					return false, false, err
				}
			}
		}
		if m.CreatedAt == 0 {
			m.CreatedAt = lm.CreatedAt
		}
	}

	m.SetStatus(models.SyncStatusSynced)
	if err := s.writeRow(ctx, tx, rec); err != nil {
		return false, false, err
	}
	return true, conflict, nil
}

// applyRemoteDeletes handles ids the server removed.
func (s *Store[T, P]) applyRemoteDeletes(ctx context.Context, tx *sql.Tx, ids []int64, opts ApplyOptions) (int, int, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}
	in := placeholders(len(ids))
	args := int64Args(ids)

	if opts.PreservePending {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE pending_changes = 0 AND id IN (%s)", s.table, in), args...)
		if err != nil {
			return 0, 0, err
		}
		n, err := res.RowsAffected()
		return int(n), 0, err
	}

	conflicts := 0
	if opts.OnConflict != nil {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(
			"SELECT %s FROM %s WHERE sync_status IN ('pending_upload', 'pending_update') AND id IN (%s)",
			recordColumns, s.table, in), args...)
		if err != nil {
			return 0, 0, err
		}
		edited, err := s.scanAll(rows)
		if err != nil {
			return 0, 0, err
		}
		for _, local := range edited {
			if err := s.logConflict(ctx, tx, opts, P(local), nil); err != nil {
				return 0, 0, err
			}
			conflicts++
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
	UPDATE %s SET sync_status = 'pending_delete', pending_changes = 1, delete_confirmed = 1
	WHERE id IN (%s)`, s.table, in), args...)
	if err != nil {
		return 0, 0, err
	}
	n, err := res.RowsAffected()
	return int(n), conflicts, err
}

// claimable returns the uploads a server record without a local id may belong to: rows
// without a server id that were sent unchanged in this batch or acknowledged earlier.
func (s *Store[T, P]) claimable(ctx context.Context, tx *sql.Tx, acks []Ack) ([]*T, error) {
	sent := make(map[string]int64, len(acks))
	for _, a := range acks {
		sent[a.LocalID] = a.UpdatedAt
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = 0 AND sync_status = 'pending_upload' ORDER BY created_at, local_id",
		recordColumns, s.table))
	if err != nil {
		return nil, err
	}
	uploads, err := s.scanAll(rows)
	if err != nil {
		return nil, err
	}

	var out []*T
	for _, rec := range uploads {
		m := P(rec).Meta()
		if at, ok := sent[m.LocalID]; (ok && at == m.UpdatedAt) || m.AwaitingConfirmation() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// adopt ties a server record that matches no local row, by server id or local id, to
// an upload in candidates with the same indexed fields. The record takes over the
// upload's local id and the claimed upload is removed from candidates.
func (s *Store[T, P]) adopt(ctx context.Context, tx *sql.Tx, rec *T, candidates *[]*T) (bool, error) {
	m := P(rec).Meta()
	if len(*candidates) == 0 || m.ID <= 0 {
		return false, nil
	}
	var known bool
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) > 0 FROM %s WHERE id = ? OR local_id = ?", s.table), m.ID, m.LocalID).Scan(&known)
	if err != nil || known {
		return false, err
	}

	want := P(rec).Indexed()
	for i, upload := range *candidates {
		if P(upload).Indexed() != want {
			continue
		}
		um := P(upload).Meta()
		m.LocalID = um.LocalID
		if m.CreatedAt == 0 {
			m.CreatedAt = um.CreatedAt
		}
		*candidates = append((*candidates)[:i], (*candidates)[i+1:]...)
		return true, nil
	}
	return false, nil
}

// awaitTx flags an acknowledged upload that is still without a server id, if it is
// unchanged since it was sent.
func (s *Store[T, P]) awaitTx(ctx context.Context, tx *sql.Tx, a Ack) (bool, error) {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
	UPDATE %s SET acked_at = updated_at
	WHERE local_id = ? AND updated_at = ? AND id = 0 AND sync_status = 'pending_upload'`, s.table),
		a.LocalID, a.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ackTx marks one acknowledged record synced if it is unchanged since it was sent.
func (s *Store[T, P]) ackTx(ctx context.Context, tx *sql.Tx, a Ack) (bool, error) {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
	UPDATE %s SET sync_status = 'synced', pending_changes = 0
	WHERE local_id = ? AND updated_at = ? AND id > 0
	AND sync_status IN ('pending_upload', 'pending_update')`, s.table), a.LocalID, a.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store[T, P]) logConflict(ctx context.Context, tx *sql.Tx, opts ApplyOptions, local, remote models.Record) error {
	if opts.OnConflict == nil {
		return nil
	}
	entry := opts.OnConflict(local, remote)
	if entry == nil {
		return nil
	}
	if entry.Entity == "" {
		entry.Entity = s.table
	}
	return insertConflictLog(ctx, tx, entry)
}
