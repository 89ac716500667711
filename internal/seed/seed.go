// Package seed loads the sample database the assistant queries by default.
package seed

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/askdb/askdb/internal/database"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	historyTable   = "askdb_seed_history"
	embeddedScript = "chinook_subset.sql"
)

type Script struct {
	Name string
	SQL  string
}

type Result struct {
	Script     string
	Statements int
	Skipped    bool
}

// Embedded returns the bundled Chinook subset.
func Embedded() (Script, error) {
	return ScriptFromFS(embeddedFS, path.Join("sql", embeddedScript))
}

// FromFile reads a seed script such as the full Chinook_Sqlite.sql dump.
func FromFile(filePath string) (Script, error) {
	return ScriptFromFS(os.DirFS(filepath.Dir(filePath)), filepath.Base(filePath))
}

func ScriptFromFS(fsys fs.FS, name string) (Script, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Script{}, fmt.Errorf("read seed script %q: %w", name, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return Script{}, fmt.Errorf("seed script %q is empty", name)
	}
	return Script{Name: path.Base(name), SQL: string(raw)}, nil
}

type Runner struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewRunner(db *sql.DB, dialect database.Dialect) *Runner {
	return &Runner{db: db, dialect: dialect}
}

// Apply runs every statement of script in one transaction and records the
// script name. A script that was applied before is skipped.
func (r *Runner) Apply(ctx context.Context, script Script) (Result, error) {
	if r.db == nil {
		return Result{}, fmt.Errorf("database handle is required")
	}
	result := Result{Script: script.Name}
	statements := SplitStatements(script.SQL)
	if len(statements) == 0 {
		return result, fmt.Errorf("seed script %q has no statements", script.Name)
	}

	if err := r.ensureHistoryTable(ctx); err != nil {
		return result, err
	}
	applied, err := r.isApplied(ctx, script.Name)
	if err != nil {
		return result, err
	}
	if applied {
		result.Skipped = true
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for index, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return result, fmt.Errorf("apply seed %q statement %d: %w", script.Name, index+1, err)
		}
	}
	insert := fmt.Sprintf(`INSERT INTO %s (name, statements) VALUES (%s, %s)`,
		historyTable, r.dialect.Placeholder(1), r.dialect.Placeholder(2))
	if _, err := tx.ExecContext(ctx, insert, script.Name, len(statements)); err != nil {
		return result, fmt.Errorf("mark seed %q: %w", script.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit seed %q: %w", script.Name, err)
	}
	result.Statements = len(statements)
	return result, nil
}

func (r *Runner) ensureHistoryTable(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + historyTable + ` (
	name VARCHAR(255) PRIMARY KEY,
	statements INTEGER NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure seed history table: %w", err)
	}
	return nil
}

func (r *Runner) isApplied(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE name = %s`, historyTable, r.dialect.Placeholder(1))
	var count int
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, fmt.Errorf("query seed history: %w", err)
	}
	return count > 0, nil
}

// Bootstrap opens (creating if needed) the database described by cfg and
// applies script to it.
func Bootstrap(ctx context.Context, cfg database.Config, script Script) (Result, error) {
	cfg.CreateIfMissing = true
	db, dialect, err := database.Open(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = db.Close() }()
	return NewRunner(db, dialect).Apply(ctx, script)
}
