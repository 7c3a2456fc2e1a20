package repository

import (
	"context"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/resource"
)

// Browse implements Handle.
func (r *Repository[T, P]) Browse(ctx context.Context, f db.Filter, forceRefresh bool) (Snapshot, error) {
	last, _ := resource.Last(r.Query(ctx, f, forceRefresh))
	if err := terminalError(ctx, last.Status, last.Err); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Records: make([]any, 0, len(last.Data)), FromCache: last.FromCache, Message: last.Message}
	for _, rec := range last.Data {
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// Lookup implements Handle.
func (r *Repository[T, P]) Lookup(ctx context.Context, id int64, forceRefresh bool) (Snapshot, error) {
	last, _ := resource.Last(r.GetByID(ctx, id, forceRefresh))
	if err := terminalError(ctx, last.Status, last.Err); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Records: []any{}, FromCache: last.FromCache, Message: last.Message}
	if last.HasData && last.Data != nil {
		snap.Records = append(snap.Records, last.Data)
	}
	return snap, nil
}

// PendingRecords implements Handle.
func (r *Repository[T, P]) PendingRecords(ctx context.Context) ([]any, error) {
	recs, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(recs))
	for i, rec := range recs {
		out[i] = rec
	}
	return out, nil
}

// terminalError returns the error a caller must see: local storage failures and
// cancellation. Remote failures are reported through the snapshot message instead.
func terminalError(ctx context.Context, status resource.Status, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if status == resource.StatusError && err != nil && !apperrors.IsRemote(err) {
		return err
	}
	return nil
}

var _ Handle = (*Repository[models.Task, *models.Task])(nil)
