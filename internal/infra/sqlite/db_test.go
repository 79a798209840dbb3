package sqlite

import (
	"path/filepath"
	"testing"
)

func TestNewDB_InMemory(t *testing.T) {
	t.Parallel()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB(:memory:) failed: %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}
}

func TestNewDB_FileInTempDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hondana.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB(%q) failed: %v", path, err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewDB_MissingParentDir(t *testing.T) {
	t.Parallel()

	_, err := NewDB(filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"))
	if err == nil {
		t.Fatal("expected error for missing parent directory, got nil")
	}
}
