package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// Handle is the type-erased view of one entity repository used by the CLI and the
// local API.
type Handle interface {
	Entity() string
	Syncer() syncpkg.Syncer
	PendingCount(ctx context.Context) (int, error)
	Sync(ctx context.Context) SyncResult
	// Browse runs a query to completion and returns its terminal state.
	Browse(ctx context.Context, f db.Filter, forceRefresh bool) (Snapshot, error)
	// Lookup returns one record by server id through the cache-first read policy.
	Lookup(ctx context.Context, id int64, forceRefresh bool) (Snapshot, error)
	// PendingRecords returns the records waiting to be synced.
	PendingRecords(ctx context.Context) ([]any, error)
}

// Snapshot is the terminal state of a read with records as plain values.
type Snapshot struct {
	Records   []any  `json:"records"`
	FromCache bool   `json:"from_cache"`
	Message   string `json:"message,omitempty"`
}

// Deps are the shared collaborators every repository is built from.
type Deps struct {
	DB      *sql.DB
	Client  *remote.Client
	Oracle  connectivity.Oracle
	Engine  syncpkg.Options
	Options Options
}

// Registry holds one repository per enabled entity type, in sync order.
type Registry struct {
	Tasks           *Repository[models.Task, *models.Task]
	TaskCompletions *Repository[models.TaskCompletion, *models.TaskCompletion]
	LabelTemplates  *Repository[models.LabelTemplate, *models.LabelTemplate]
	Products        *Repository[models.Product, *models.Product]
	Checkpoints     *Repository[models.Checkpoint, *models.Checkpoint]

	handles []Handle
	closers []func() error
}

// NewRegistry builds the repositories for entities (table names). An empty list
// enables every entity type.
func NewRegistry(deps Deps, entities []string) (*Registry, error) {
	if len(entities) == 0 {
		entities = []string{"tasks", "task_completions", "label_templates", "products", "checkpoints"}
	}
	states := db.NewSyncStateStore(deps.DB)
	reg := &Registry{}

	for _, entity := range entities {
		switch entity {
		case "tasks":
			reg.Tasks = build[models.Task](reg, deps, states)
		case "task_completions":
			reg.TaskCompletions = build[models.TaskCompletion](reg, deps, states)
		case "label_templates":
			reg.LabelTemplates = build[models.LabelTemplate](reg, deps, states)
		case "products":
			reg.Products = build[models.Product](reg, deps, states)
		case "checkpoints":
			reg.Checkpoints = build[models.Checkpoint](reg, deps, states)
		default:
			reg.Close()
			return nil, fmt.Errorf("unknown entity %q", entity)
		}
	}
	return reg, nil
}

func build[T any, P models.Entity[T]](reg *Registry, deps Deps, states *db.SyncStateStore) *Repository[T, P] {
	store := db.NewStore[T, P](deps.DB)
	gateway := remote.NewHTTPGateway[T, P](deps.Client)
	engine := syncpkg.NewEngine[T, P](store, gateway, states, deps.Engine)
	repo := New[T, P](store, gateway, engine, states, deps.Oracle, deps.Options)

	reg.handles = append(reg.handles, repo)
	reg.closers = append(reg.closers, store.Close)
	return repo
}

// Handles returns every enabled repository in sync order.
func (r *Registry) Handles() []Handle {
	return append([]Handle(nil), r.handles...)
}

// Handle returns the repository for entity.
func (r *Registry) Handle(entity string) (Handle, bool) {
	for _, h := range r.handles {
		if h.Entity() == entity {
			return h, true
		}
	}
	return nil, false
}

// Syncers returns the sync engines of every enabled repository.
func (r *Registry) Syncers() []syncpkg.Syncer {
	syncers := make([]syncpkg.Syncer, len(r.handles))
	for i, h := range r.handles {
		syncers[i] = h.Syncer()
	}
	return syncers
}

// SetEventHandler installs handler on every sync engine.
func (r *Registry) SetEventHandler(handler syncpkg.EventHandler) {
	for _, h := range r.handles {
		h.Syncer().SetEventHandler(handler)
	}
}

// PendingCounts returns the pending count per entity.
func (r *Registry) PendingCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(r.handles))
	for _, h := range r.handles {
		n, err := h.PendingCount(ctx)
		if err != nil {
			return nil, err
		}
		counts[h.Entity()] = n
	}
	return counts, nil
}

// Close releases the prepared statements of every store.
func (r *Registry) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
