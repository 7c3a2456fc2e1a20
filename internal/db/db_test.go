// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, FileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Fatalf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/invalid_path/that/cannot/be/created")
	if err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestOpenMigrated verifies the schema is in place after opening.
func TestOpenMigrated(t *testing.T) {
	db, err := OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"tasks", "task_completions", "label_templates", "products", "checkpoints", "sync_state", "conflict_log"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

// TestDB_reopen verifies data survives closing and reopening.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := OpenMigrated(tmpDir)
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO sync_state (entity, last_sync, updated_at) VALUES ('tasks', 42, 1)"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	db.Close()

	db, err = OpenMigrated(tmpDir)
	if err != nil {
		t.Fatalf("second OpenMigrated() failed: %v", err)
	}
	defer db.Close()

	var lastSync int64
	if err := db.QueryRow("SELECT last_sync FROM sync_state WHERE entity = 'tasks'").Scan(&lastSync); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if lastSync != 42 {
		t.Errorf("last_sync = %d, want 42", lastSync)
	}
}

// TestDB_concurrentQueries verifies the single connection serializes access.
func TestDB_concurrentQueries(t *testing.T) {
	db, err := OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	defer db.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int
			if err := db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent query failed: %v", err)
	}
}
