// Package remote implements the per-entity REST gateway of the sync server.
//
// Every entity resource exposes:
// - GET    /{resource}          - list, as a JSON array or a diff object
// - GET    /{resource}/{id}     - one record
// - POST   /{resource}          - create
// - PUT    /{resource}/{id}     - update
// - DELETE /{resource}/{id}     - delete
// - POST   /{resource}/sync     - batch sync
//
// Every call is a single attempt; retries belong to the sync engine.
package remote

import (
	"context"
	"encoding/json"
)

// Gateway is the remote surface for one entity type.
type Gateway[T any] interface {
	Create(ctx context.Context, rec *T) (*T, error)
	Update(ctx context.Context, id int64, rec *T) (*T, error)
	// Delete removes id on the server. A record the server no longer has counts as deleted.
	Delete(ctx context.Context, id int64) error
	Fetch(ctx context.Context, id int64) (*T, error)
	FetchAll(ctx context.Context, f Filters) (*Diff[T], error)
	SyncBatch(ctx context.Context, p *BatchPayload[T]) (*Diff[T], error)
}

// Filters are sent as query parameters on list calls.
type Filters map[string]string

// Diff is the server's statement of what changed since the caller's last known state.
type Diff[T any] struct {
	Added   []*T    `json:"added"`
	Updated []*T    `json:"updated"`
	Deleted []int64 `json:"deleted"`
}

// Len returns the number of changes in the diff.
func (d *Diff[T]) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Added) + len(d.Updated) + len(d.Deleted)
}

// BatchPayload is the body of a batch sync request. Records are sent under the entity's
// plural key, e.g. {"tasks": [...], "deleted_ids": [...], "last_sync": 0, "scope_id": "1"}.
type BatchPayload[T any] struct {
	Key        string
	Records    []*T
	DeletedIDs []int64
	LastSync   int64
	ScopeID    string
}

// Empty reports whether the payload carries no local changes.
func (p *BatchPayload[T]) Empty() bool {
	return len(p.Records) == 0 && len(p.DeletedIDs) == 0
}

// MarshalJSON implements json.Marshaler.
func (p *BatchPayload[T]) MarshalJSON() ([]byte, error) {
	records := p.Records
	if records == nil {
		records = []*T{}
	}
	deleted := p.DeletedIDs
	if deleted == nil {
		deleted = []int64{}
	}
	return json.Marshal(map[string]any{
		p.Key:         records,
		"deleted_ids": deleted,
		"last_sync":   p.LastSync,
		"scope_id":    p.ScopeID,
	})
}
