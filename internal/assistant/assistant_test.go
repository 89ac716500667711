package assistant

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/seed"
	"github.com/askdb/askdb/internal/sqlguard"
)

func TestAskTranslatesAndExecutes(t *testing.T) {
	translator := &fakeTranslator{sql: "SELECT COUNT(*) FROM Employee"}
	service := newService(t, translator, false)

	answer, err := service.Ask(context.Background(), "  How many employees are there? ", 0)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != "SELECT COUNT(*) FROM Employee" || answer.Question != "How many employees are there?" {
		t.Fatalf("Ask() = %+v", answer)
	}
	if len(answer.Result.Rows) != 1 || answer.Result.Rows[0][0] != int64(8) {
		t.Fatalf("Rows = %#v", answer.Result.Rows)
	}
	if !strings.Contains(translator.requests[0].Schema, "table: Employee\nColumns:\n") {
		t.Fatalf("schema text not passed to translator: %q", translator.requests[0].Schema)
	}
}

func TestSchemaTextIsLoadedOnceAndSkipsInternalTables(t *testing.T) {
	service := newService(t, &fakeTranslator{sql: "SELECT 1"}, false)

	text := service.SchemaText()
	if strings.Contains(text, "askdb_seed_history") || strings.Contains(text, "sqlite_") {
		t.Fatalf("internal tables leaked into schema text: %q", text)
	}
	if got := len(service.Schema().Tables); got != 11 {
		t.Fatalf("tables = %d, want 11", got)
	}
	if service.SchemaText() != text {
		t.Fatal("schema text changed between calls")
	}
}

func TestAskReportsNoSQLAsTranslateStage(t *testing.T) {
	service := newService(t, &fakeTranslator{err: nl2sql.ErrNoSQL}, false)

	_, err := service.Ask(context.Background(), "tell me a joke", 0)
	if !errors.Is(err, nl2sql.ErrNoSQL) {
		t.Fatalf("Ask() error = %v, want ErrNoSQL", err)
	}
	if StageOf(err) != StageTranslate {
		t.Fatalf("stage = %q", StageOf(err))
	}
}

func TestAskKeepsSQLWhenExecutionFails(t *testing.T) {
	service := newService(t, &fakeTranslator{sql: "SELECT * FROM Nope"}, false)

	answer, err := service.Ask(context.Background(), "q", 0)
	if err == nil {
		t.Fatal("expected execution error")
	}
	if StageOf(err) != StageExecute {
		t.Fatalf("stage = %q", StageOf(err))
	}
	if answer.SQL != "SELECT * FROM Nope" {
		t.Fatalf("SQL = %q", answer.SQL)
	}
}

func TestReadOnlyGuardBlocksWrites(t *testing.T) {
	service := newService(t, &fakeTranslator{sql: "DELETE FROM Employee"}, true)

	_, err := service.Ask(context.Background(), "remove everyone", 0)
	if !errors.Is(err, sqlguard.ErrNotReadOnly) || StageOf(err) != StageGuard {
		t.Fatalf("Ask() error = %v", err)
	}

	result, err := service.Execute(context.Background(), "SELECT COUNT(*) FROM Employee", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != int64(8) {
		t.Fatalf("employees = %#v", result.Rows[0][0])
	}
}

func TestTranslateWithoutTranslator(t *testing.T) {
	service := newService(t, nil, false)
	if _, err := service.Translate(context.Background(), "q"); !errors.Is(err, ErrTranslatorUnavailable) {
		t.Fatalf("Translate() error = %v", err)
	}
	if _, err := service.Translate(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestExecuteUsesDefaultRowLimit(t *testing.T) {
	db, dialect := openSample(t)
	service, err := New(context.Background(), Deps{DB: db, Dialect: dialect, RowLimit: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	result, err := service.Execute(context.Background(), "SELECT Name FROM Genre", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	result, err = service.Execute(context.Background(), "SELECT Name FROM Genre", 5)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 5 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
}

type fakeTranslator struct {
	requests []nl2sql.Request
	sql      string
	err      error
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nl2sql.Result{Provider: "fake"}, f.err
	}
	return nl2sql.Result{SQL: f.sql, Provider: "fake", Model: "fake-1"}, nil
}

func newService(t *testing.T, translator nl2sql.Translator, readOnly bool) *Service {
	t.Helper()
	db, dialect := openSample(t)
	deps := Deps{DB: db, Dialect: dialect, ReadOnly: readOnly}
	if translator != nil {
		deps.Translator = translator
	}
	service, err := New(context.Background(), deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return service
}

func openSample(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	ctx := context.Background()
	cfg := database.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "Chinook.db")}
	script, err := seed.Embedded()
	if err != nil {
		t.Fatalf("seed.Embedded() error = %v", err)
	}
	if _, err := seed.Bootstrap(ctx, cfg, script); err != nil {
		t.Fatalf("seed.Bootstrap() error = %v", err)
	}
	db, dialect, err := database.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, dialect
}
