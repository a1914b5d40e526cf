package infra

import (
	"path/filepath"
	"testing"

	"github.com/payperplane/payperplane/internal/logging"
)

func TestNewSQLiteDB(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "payperplane.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected a single connection, got %d", got)
	}
}

func TestNewSQLiteDBRequiresPath(t *testing.T) {
	if _, err := NewSQLiteDB("", logging.Discard()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
