package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/repository"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/sync/scheduler"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeScheduler struct {
	mu       sync.Mutex
	err      error
	all      int
	entities []string
}

func (f *fakeScheduler) GetStatus() scheduler.SchedulerStatus {
	return scheduler.SchedulerStatus{IsOnline: true, Schedule: "@every 15m"}
}

func (f *fakeScheduler) SyncNow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return f.err
}

func (f *fakeScheduler) SyncEntity(ctx context.Context, entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = append(f.entities, entity)
	return f.err
}

func setupServer(t *testing.T) (*Server, *fakeScheduler, *repository.Registry) {
	t.Helper()
	database, err := db.OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	reg, err := repository.NewRegistry(repository.Deps{
		DB:     database.DB,
		Client: remote.NewClient("http://127.0.0.1:1"),
		Oracle: connectivity.Static(false),
		Engine: syncpkg.DefaultOptions(),
	}, []string{"tasks", "products"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	sched := &fakeScheduler{}
	srv := NewServer(Config{
		Version:   "1.2.3",
		Scheduler: sched,
		Registry:  reg,
		Oracle:    connectivity.Static(false),
		Events: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
	return srv, sched, reg
}

func do(t *testing.T, srv *Server, method, target string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	if rec.Code != http.StatusTeapot {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code, body
}

// =====================================================
// Route Tests
// =====================================================

func TestServer_health(t *testing.T) {
	srv, _, _ := setupServer(t)

	code, body := do(t, srv, http.MethodGet, "/api/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["service"] != ServiceName || body["version"] != "1.2.3" || body["online"] != false {
		t.Errorf("body = %v", body)
	}

	if code, _ := do(t, srv, http.MethodPost, "/api/health"); code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", code)
	}
}

func TestServer_status(t *testing.T) {
	srv, _, reg := setupServer(t)
	if _, err := reg.Tasks.Create(context.Background(), &models.Task{Title: "queued", Status: models.TaskStatusPending}); err != nil {
		t.Fatal(err)
	}

	code, body := do(t, srv, http.MethodGet, "/api/sync/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	pending, _ := body["pending"].(map[string]interface{})
	if pending["tasks"] != float64(1) || pending["products"] != float64(0) {
		t.Errorf("pending = %v", body["pending"])
	}
	sched, _ := body["scheduler"].(map[string]interface{})
	if sched["schedule"] != "@every 15m" {
		t.Errorf("scheduler = %v", body["scheduler"])
	}
}

func TestServer_sync(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		wantCode int
	}{
		{"all", "/api/sync", nil, http.StatusOK},
		{"one entity", "/api/sync?entity=tasks", nil, http.StatusOK},
		{"unknown entity", "/api/sync?entity=invoices", apperrors.New(apperrors.ErrNotFound, "unknown"), http.StatusNotFound},
		{"offline", "/api/sync", apperrors.New(apperrors.ErrNetworkUnavailable, "down"), http.StatusBadGateway},
		{"timeout", "/api/sync", apperrors.New(apperrors.ErrTimeout, "slow"), http.StatusGatewayTimeout},
		{"storage", "/api/sync", apperrors.New(apperrors.ErrLocalStorage, "disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sched, _ := setupServer(t)
			sched.err = tt.err

			code, body := do(t, srv, http.MethodPost, tt.target)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d (%v)", code, tt.wantCode, body)
			}
			if tt.err != nil && body["code"] != string(apperrors.CodeOf(tt.err)) {
				t.Errorf("code = %v", body["code"])
			}
		})
	}

	srv, sched, _ := setupServer(t)
	do(t, srv, http.MethodPost, "/api/sync?entity=products")
	do(t, srv, http.MethodPost, "/api/sync")
	if sched.all != 1 || len(sched.entities) != 1 || sched.entities[0] != "products" {
		t.Errorf("calls: all=%d entities=%v", sched.all, sched.entities)
	}
	if code, _ := do(t, srv, http.MethodGet, "/api/sync"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", code)
	}
}

func TestServer_pending(t *testing.T) {
	srv, _, reg := setupServer(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b"} {
		if _, err := reg.Tasks.Create(ctx, &models.Task{Title: title, Status: models.TaskStatusPending}); err != nil {
			t.Fatal(err)
		}
	}

	code, body := do(t, srv, http.MethodGet, "/api/pending")
	if code != http.StatusOK || body["total"] != float64(2) {
		t.Errorf("GET /api/pending = %d %v", code, body)
	}

	code, body = do(t, srv, http.MethodGet, "/api/pending?entity=tasks")
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("GET /api/pending?entity=tasks = %d %v", code, body)
	}
	records, _ := body["records"].([]interface{})
	if len(records) != 2 {
		t.Fatalf("records = %v", body["records"])
	}
	titles := map[interface{}]bool{}
	for _, r := range records {
		rec, _ := r.(map[string]interface{})
		if rec["local_id"] == nil || rec["local_id"] == "" {
			t.Errorf("record without local_id: %v", rec)
		}
		titles[rec["title"]] = true
	}
	if !titles["a"] || !titles["b"] {
		t.Errorf("records = %v", records)
	}

	if code, _ := do(t, srv, http.MethodGet, "/api/pending?entity=invoices"); code != http.StatusNotFound {
		t.Errorf("unknown entity status = %d, want 404", code)
	}
}

func TestServer_events(t *testing.T) {
	srv, _, _ := setupServer(t)
	if code, _ := do(t, srv, http.MethodGet, "/ws"); code != http.StatusTeapot {
		t.Errorf("/ws status = %d, want events handler", code)
	}
}

func TestServer_Serve(t *testing.T) {
	srv, _, _ := setupServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
