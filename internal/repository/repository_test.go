package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/resource"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeGateway is an in-memory server for tasks.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]models.Task
	calls   map[string]int
	fail    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 100, records: make(map[int64]models.Task), calls: make(map[string]int)}
}

func (g *fakeGateway) record(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	return g.fail
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) Create(ctx context.Context, rec *models.Task) (*models.Task, error) {
	if err := g.record("create"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := *rec
	g.nextID++
	out.ID = g.nextID
	out.UpdatedAt = rec.UpdatedAt + 1
	g.records[out.ID] = out
	return &out, nil
}

func (g *fakeGateway) Update(ctx context.Context, id int64, rec *models.Task) (*models.Task, error) {
	if err := g.record("update"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := *rec
	out.UpdatedAt = rec.UpdatedAt + 1
	g.records[id] = out
	return &out, nil
}

func (g *fakeGateway) Delete(ctx context.Context, id int64) error {
	if err := g.record("delete"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, id)
	return nil
}

func (g *fakeGateway) Fetch(ctx context.Context, id int64) (*models.Task, error) {
	if err := g.record("fetch"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[id]
	if !ok {
		return nil, apperrors.Server(404, "not found")
	}
	return &rec, nil
}

func (g *fakeGateway) FetchAll(ctx context.Context, f remote.Filters) (*remote.Diff[models.Task], error) {
	if err := g.record("fetch_all"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	diff := &remote.Diff[models.Task]{}
	for _, rec := range g.records {
		rec := rec
		diff.Added = append(diff.Added, &rec)
	}
	return diff, nil
}

func (g *fakeGateway) SyncBatch(ctx context.Context, p *remote.BatchPayload[models.Task]) (*remote.Diff[models.Task], error) {
	if err := g.record("sync"); err != nil {
		return nil, err
	}
	return &remote.Diff[models.Task]{}, nil
}

// seed puts a record on the fake server.
func (g *fakeGateway) seed(id int64, title string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := models.Task{Title: title, Status: models.TaskStatusPending}
	rec.ID = id
	rec.UpdatedAt = 1000 + id
	g.records[id] = rec
}

type fixture struct {
	store   *db.Store[models.Task, *models.Task]
	gateway *fakeGateway
	online  *connectivity.Monitor
	repo    *Repository[models.Task, *models.Task]
	pending []int
}

func setupRepository(t *testing.T, online bool) *fixture {
	t.Helper()
	database, err := db.OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		store:   db.NewStore[models.Task](database.DB),
		gateway: newFakeGateway(),
		online:  connectivity.NewMonitor(online),
	}
	states := db.NewSyncStateStore(database.DB)
	engine := syncpkg.NewEngine[models.Task, *models.Task](f.store, f.gateway, states, syncpkg.DefaultOptions())
	f.repo = New[models.Task, *models.Task](f.store, f.gateway, engine, states, f.online, Options{
		OnPendingChange: func(entity string, n int) { f.pending = append(f.pending, n) },
	})
	return f
}

func (f *fixture) stored(t *testing.T, localID string) *models.Task {
	t.Helper()
	rec, ok, err := f.store.GetByLocalID(context.Background(), localID)
	if err != nil || !ok {
		t.Fatalf("GetByLocalID(%s) = %v, %v", localID, ok, err)
	}
	return rec
}

func newTask(title string) *models.Task {
	return &models.Task{Title: title, Status: models.TaskStatusPending, Priority: models.TaskPriorityMedium}
}

// =====================================================
// Offline Tests
// =====================================================

// TestRepository_offlineDurability verifies writes succeed locally while offline.
func TestRepository_offlineDurability(t *testing.T) {
	f := setupRepository(t, false)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, newTask("offline create"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.SyncStatus != models.SyncStatusPendingUpload || created.ID != 0 || created.LocalID == "" {
		t.Errorf("Create() = %+v", created.SyncMeta)
	}

	synced := newTask("server copy")
	synced.ID = 9
	synced.UpdatedAt = 10
	if err := f.store.Upsert(ctx, synced); err != nil {
		t.Fatal(err)
	}
	edit := *synced
	edit.Title = "offline edit"
	updated, err := f.repo.Update(ctx, &edit)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.SyncStatus != models.SyncStatusPendingUpdate {
		t.Errorf("Update() status = %s", updated.SyncStatus)
	}

	confirmed, err := f.repo.Delete(ctx, synced.LocalID)
	if err != nil || confirmed {
		t.Errorf("Delete() = %v, %v, want unconfirmed", confirmed, err)
	}
	if got := f.stored(t, synced.LocalID); got.SyncStatus != models.SyncStatusPendingDelete {
		t.Errorf("deleted status = %s", got.SyncStatus)
	}

	if f.gateway.total() != 0 {
		t.Errorf("gateway calls = %v, want none offline", f.gateway.calls)
	}
	if n, _ := f.repo.PendingCount(ctx); n != 2 {
		t.Errorf("PendingCount() = %d, want 2", n)
	}
	if len(f.pending) == 0 || f.pending[len(f.pending)-1] != 2 {
		t.Errorf("pending notifications = %v", f.pending)
	}
}

// TestRepository_createThenDelete verifies a never-synced record is purged without a
// network call.
func TestRepository_createThenDelete(t *testing.T) {
	f := setupRepository(t, false)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, newTask("short-lived"))
	if err != nil {
		t.Fatal(err)
	}
	f.online.Set(true)

	confirmed, err := f.repo.Delete(ctx, created.LocalID)
	if err != nil || !confirmed {
		t.Fatalf("Delete() = %v, %v, want confirmed", confirmed, err)
	}
	if _, ok, _ := f.store.GetByLocalID(ctx, created.LocalID); ok {
		t.Error("record still stored")
	}
	if f.gateway.total() != 0 {
		t.Errorf("gateway calls = %v, want none", f.gateway.calls)
	}
}

// =====================================================
// Optimistic Push Tests
// =====================================================

// TestRepository_Create_online verifies the server copy is stored synced.
func TestRepository_Create_online(t *testing.T) {
	f := setupRepository(t, true)

	created, err := f.repo.Create(context.Background(), newTask("pushed"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != 101 || created.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Create() = %+v", created.SyncMeta)
	}
	got := f.stored(t, created.LocalID)
	if got.ID != 101 || got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("stored = %+v", got.SyncMeta)
	}
}

// TestRepository_Create_remoteFailure verifies a failed push is not an error.
func TestRepository_Create_remoteFailure(t *testing.T) {
	f := setupRepository(t, true)
	f.gateway.fail = apperrors.New(apperrors.ErrTimeout, "slow")

	created, err := f.repo.Create(context.Background(), newTask("retry later"))
	if err != nil {
		t.Fatalf("Create() error = %v, want swallowed", err)
	}
	if created.SyncStatus != models.SyncStatusPendingUpload {
		t.Errorf("status = %s, want pending_upload", created.SyncStatus)
	}
	if f.gateway.count("create") != 1 {
		t.Errorf("create calls = %d", f.gateway.count("create"))
	}
}

// TestRepository_Update_neverSynced verifies an unsent record pushes as a create.
func TestRepository_Update_neverSynced(t *testing.T) {
	f := setupRepository(t, false)
	ctx := context.Background()

	created, _ := f.repo.Create(ctx, newTask("draft"))
	edit := *created
	edit.Title = "draft v2"

	updated, err := f.repo.Update(ctx, &edit)
	if err != nil {
		t.Fatal(err)
	}
	if updated.SyncStatus != models.SyncStatusPendingUpload {
		t.Errorf("offline update status = %s, want pending_upload", updated.SyncStatus)
	}

	f.online.Set(true)
	edit.Title = "draft v3"
	updated, err = f.repo.Update(ctx, &edit)
	if err != nil {
		t.Fatal(err)
	}
	if f.gateway.count("create") != 1 || f.gateway.count("update") != 0 {
		t.Errorf("calls = %v, want one create", f.gateway.calls)
	}
	if updated.ID == 0 || updated.SyncStatus != models.SyncStatusSynced || updated.Title != "draft v3" {
		t.Errorf("Update() = %q %+v", updated.Title, updated.SyncMeta)
	}
}

// TestRepository_Update_notFound verifies updating an unknown record fails.
func TestRepository_Update_notFound(t *testing.T) {
	f := setupRepository(t, true)
	task := newTask("ghost")
	task.LocalID = "6f1c1f04-3a8e-4a0e-9d0b-1c2f3e4d5a6b"

	if _, err := f.repo.Update(context.Background(), task); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Update() error = %v, want NOT_FOUND", err)
	}
}

// TestRepository_Delete_online verifies a confirmed remote delete purges locally.
func TestRepository_Delete_online(t *testing.T) {
	f := setupRepository(t, true)
	ctx := context.Background()
	created, _ := f.repo.Create(ctx, newTask("to delete"))

	confirmed, err := f.repo.Delete(ctx, created.LocalID)
	if err != nil || !confirmed {
		t.Fatalf("Delete() = %v, %v", confirmed, err)
	}
	if f.gateway.count("delete") != 1 {
		t.Errorf("delete calls = %d", f.gateway.count("delete"))
	}
	if _, ok, _ := f.store.GetByLocalID(ctx, created.LocalID); ok {
		t.Error("record still stored after confirmed delete")
	}
}

// =====================================================
// Read Tests
// =====================================================

// TestRepository_List_cacheFirst verifies a fresh cache never calls the gateway.
func TestRepository_List_cacheFirst(t *testing.T) {
	f := setupRepository(t, true)
	ctx := context.Background()
	f.gateway.seed(1, "one")
	f.gateway.seed(2, "two")

	last, _ := resource.Last(f.repo.List(ctx, false))
	if last.Status != resource.StatusSuccess || last.FromCache || len(last.Data) != 2 {
		t.Fatalf("first List() = %v fromCache=%v n=%d", last.Status, last.FromCache, len(last.Data))
	}

	last, _ = resource.Last(f.repo.List(ctx, false))
	if !last.FromCache || len(last.Data) != 2 {
		t.Errorf("second List() fromCache=%v n=%d", last.FromCache, len(last.Data))
	}
	if f.gateway.count("fetch_all") != 1 {
		t.Errorf("fetch_all calls = %d, want 1", f.gateway.count("fetch_all"))
	}

	resource.Last(f.repo.List(ctx, true))
	if f.gateway.count("fetch_all") != 2 {
		t.Errorf("forced fetch_all calls = %d, want 2", f.gateway.count("fetch_all"))
	}
}

// TestRepository_List_keepsPendingEdits verifies a fetch never overwrites local edits.
func TestRepository_List_keepsPendingEdits(t *testing.T) {
	f := setupRepository(t, false)
	ctx := context.Background()
	synced := newTask("server")
	synced.ID = 1
	synced.UpdatedAt = 5
	if err := f.store.Upsert(ctx, synced); err != nil {
		t.Fatal(err)
	}
	edit := *synced
	edit.Title = "local edit"
	if _, err := f.repo.Update(ctx, &edit); err != nil {
		t.Fatal(err)
	}

	f.gateway.seed(1, "server changed")
	f.online.Set(true)
	last, _ := resource.Last(f.repo.List(ctx, true))
	if last.Status != resource.StatusSuccess || len(last.Data) != 1 {
		t.Fatalf("List() = %v n=%d", last.Status, len(last.Data))
	}
	if got := last.Data[0]; got.Title != "local edit" || got.SyncStatus != models.SyncStatusPendingUpdate {
		t.Errorf("record = %q %s, want local edit kept", got.Title, got.SyncStatus)
	}
}

// TestRepository_List_staleOnError verifies cached data survives a failed fetch.
func TestRepository_List_staleOnError(t *testing.T) {
	f := setupRepository(t, true)
	ctx := context.Background()
	f.gateway.seed(1, "one")
	resource.Last(f.repo.List(ctx, false))

	f.gateway.fail = apperrors.Server(500, "boom")
	last, _ := resource.Last(f.repo.List(ctx, true))
	if last.Status != resource.StatusError || !last.HasData || len(last.Data) != 1 {
		t.Errorf("List() = %v hasData=%v n=%d, want error with cache", last.Status, last.HasData, len(last.Data))
	}
}

// TestRepository_GetByID verifies a missing record is fetched and cached.
func TestRepository_GetByID(t *testing.T) {
	f := setupRepository(t, true)
	ctx := context.Background()
	f.gateway.seed(7, "seven")

	last, _ := resource.Last(f.repo.GetByID(ctx, 7, false))
	if last.Status != resource.StatusSuccess || last.Data == nil || last.Data.Title != "seven" {
		t.Fatalf("GetByID() = %+v", last)
	}
	if last.Data.SyncStatus != models.SyncStatusSynced {
		t.Errorf("status = %s", last.Data.SyncStatus)
	}

	resource.Last(f.repo.GetByID(ctx, 7, false))
	if f.gateway.count("fetch") != 1 {
		t.Errorf("fetch calls = %d, want 1", f.gateway.count("fetch"))
	}
}

// =====================================================
// Sync Tests
// =====================================================

// TestRepository_SyncNow verifies results are wrapped as Success or Error.
func TestRepository_SyncNow(t *testing.T) {
	f := setupRepository(t, true)
	ctx := context.Background()

	if res := f.repo.SyncNow(ctx, 0); !res.OK || res.Result == nil {
		t.Errorf("SyncNow() = %+v, want success", res)
	}

	f.gateway.fail = apperrors.New(apperrors.ErrNetworkUnavailable, "down")
	if _, err := f.repo.Create(ctx, newTask("needs upload")); err != nil {
		t.Fatal(err)
	}
	res := f.repo.Sync(ctx)
	if res.OK || res.Code != string(apperrors.ErrNetworkUnavailable) || res.Message == "" {
		t.Errorf("Sync() = %+v, want error", res)
	}
}

// TestRegistry_entities verifies the registry builds the requested repositories.
func TestRegistry_entities(t *testing.T) {
	database, err := db.OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	reg, err := NewRegistry(Deps{DB: database.DB, Client: remote.NewClient("http://127.0.0.1:1"),
		Oracle: connectivity.Static(false), Engine: syncpkg.DefaultOptions()}, []string{"tasks", "products"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer reg.Close()

	if reg.Tasks == nil || reg.Products == nil || reg.Checkpoints != nil {
		t.Error("unexpected repositories built")
	}
	if len(reg.Syncers()) != 2 {
		t.Errorf("Syncers() = %d, want 2", len(reg.Syncers()))
	}
	if _, ok := reg.Handle("products"); !ok {
		t.Error("Handle(products) missing")
	}

	ctx := context.Background()
	if _, err := reg.Tasks.Create(ctx, newTask("queued")); err != nil {
		t.Fatal(err)
	}
	counts, err := reg.PendingCounts(ctx)
	if err != nil || counts["tasks"] != 1 || counts["products"] != 0 {
		t.Errorf("PendingCounts() = %v, %v", counts, err)
	}

	h, _ := reg.Handle("tasks")
	snap, err := h.Browse(ctx, db.Filter{}, false)
	if err != nil || len(snap.Records) != 1 || !snap.FromCache {
		t.Errorf("Browse() = %+v, %v", snap, err)
	}

	if _, err := NewRegistry(Deps{DB: database.DB}, []string{"invoices"}); err == nil {
		t.Error("NewRegistry(unknown) error = nil")
	}
}
