package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, _, err := Open(context.Background(), Config{Driver: "sqlite"})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenMissingSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, _, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path})
	if err == nil {
		t.Fatal("expected error for missing sqlite file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenCreatesSQLiteFileWhenAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	db, dialect, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if dialect != DialectSQLite {
		t.Fatalf("dialect = %q", dialect)
	}
}

func TestDialectPlaceholder(t *testing.T) {
	if got := DialectPostgres.Placeholder(2); got != "$2" {
		t.Fatalf("Placeholder() = %q", got)
	}
	if got := DialectSQLite.Placeholder(2); got != "?" {
		t.Fatalf("Placeholder() = %q", got)
	}
}
