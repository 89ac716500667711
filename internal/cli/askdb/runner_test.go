package askdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/secrets"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func TestSeedThenQuery(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run(t, "seed")
	if code != 0 {
		t.Fatalf("seed exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Applied chinook_subset.sql") {
		t.Fatalf("seed output = %q", stdout)
	}

	stdout, _, code = env.run(t, "seed")
	if code != 0 || !strings.Contains(stdout, "already applied") {
		t.Fatalf("second seed exit=%d output=%q", code, stdout)
	}

	stdout, stderr, code = env.run(t, "query", "--format", "csv", "SELECT COUNT(*) AS total FROM Employee")
	if code != 0 {
		t.Fatalf("query exit code = %d, stderr=%s", code, stderr)
	}
	if stdout != "total\n8\n" {
		t.Fatalf("query output = %q", stdout)
	}
}

func TestSchemaCommand(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	stdout, stderr, code := env.run(t, "schema")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "table: Employee\nColumns:\n  - EmployeeId (INTEGER)\n") {
		t.Fatalf("schema output = %q", stdout)
	}
	if strings.Contains(stdout, "askdb_seed_history") {
		t.Fatal("internal tables must not be described")
	}
}

func TestAskPrintsQuestionSQLAndResult(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.translator.replies["Which employees are sales agents?"] = "SELECT FirstName, LastName FROM Employee WHERE Title = 'Sales Support Agent' ORDER BY EmployeeId"

	stdout, stderr, code := env.run(t, "ask", "Which", "employees", "are", "sales", "agents?")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	for _, want := range []string{
		"\nQuestion: Which employees are sales agents?\n",
		"SQL Query: SELECT FirstName, LastName FROM Employee WHERE Title = 'Sales Support Agent' ORDER BY EmployeeId\n",
		"Result:\n",
		"Peacock",
		"Johnson",
		strings.Repeat("=", 100),
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(env.translator.lastSchema, "table: Employee") {
		t.Fatalf("schema sent to translator = %q", env.translator.lastSchema)
	}
}

func TestAskDemoContinuesAfterFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.translator.replies["List all customers in Canada."] = "SELECT FirstName FROM Customer WHERE Country = 'Canada'"
	env.translator.replies["What is the total revenue from sales?"] = "SELECT SUM(Total) AS revenue FROM Invoice"
	env.translator.replies["Which artists have more than 5 albums?"] = "SELECT Nme FROM Artist"
	env.translator.errs["Which employees are sales agents?"] = fmt.Errorf("translate: %w", nl2sql.ErrNoSQL)

	stdout, _, code := env.run(t, "ask", "--demo")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if got := strings.Count(stdout, "Question: "); got != len(DemoQuestions) {
		t.Fatalf("printed %d questions, want %d", got, len(DemoQuestions))
	}
	if !strings.Contains(stdout, "Error generating SQL with LLM:") {
		t.Fatalf("missing translation failure:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Error executing SQL:") {
		t.Fatalf("missing execution failure:\n%s", stdout)
	}
	if !strings.Contains(stdout, "revenue") {
		t.Fatalf("later questions should still run:\n%s", stdout)
	}
}

func TestAskLogsOneTraceIDPerQuestion(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.values["ASKDB_LOG_LEVEL"] = "debug"
	env.translator.replies["List all customers in Canada."] = "SELECT FirstName FROM Customer WHERE Country = 'Canada'"

	_, stderr, _ := env.run(t, "ask", "--demo")
	ids := map[string]bool{}
	for _, match := range traceIDPattern.FindAllStringSubmatch(stderr, -1) {
		if _, err := uuid.Parse(match[1]); err != nil {
			t.Fatalf("trace_id %q is not a uuid: %v", match[1], err)
		}
		ids[match[1]] = true
	}
	if len(ids) != len(DemoQuestions) {
		t.Fatalf("distinct trace ids = %d, want %d\n%s", len(ids), len(DemoQuestions), stderr)
	}
}

var traceIDPattern = regexp.MustCompile(`trace_id=([0-9a-f-]{36})`)

func TestAskSQLOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.translator.replies["How many tracks?"] = "SELECT COUNT(*) FROM Track"

	stdout, _, code := env.run(t, "ask", "--sql-only", "How many tracks?")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "SQL Query: SELECT COUNT(*) FROM Track") {
		t.Fatalf("output = %q", stdout)
	}
	if strings.Contains(stdout, "Result:") {
		t.Fatalf("--sql-only must not execute:\n%s", stdout)
	}
}

func TestAskExportsParquet(t *testing.T) {
	env := newTestEnv(t)
	exportDir := t.TempDir()
	env.values["ASKDB_EXPORT_DIR"] = exportDir
	env.seed(t)
	env.translator.replies["List employees"] = "SELECT EmployeeId, LastName FROM Employee"

	stdout, stderr, code := env.run(t, "ask", "--export", "List employees")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Exported 8 rows to "+exportDir) {
		t.Fatalf("output = %q", stdout)
	}
	matches, err := filepath.Glob(filepath.Join(exportDir, "*.parquet"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("parquet files = %v", matches)
	}
}

func TestReadOnlyGuardRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	env.values["ASKDB_QUERY_READ_ONLY"] = "true"
	env.seed(t)

	_, stderr, code := env.run(t, "query", "DELETE FROM Employee")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "read-only") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestMissingDatabaseSuggestsSeed(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(t, "schema")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "askdb seed") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestKeyCommands(t *testing.T) {
	env := newTestEnv(t)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"key", "set"}, Options{
		Lookup:  env.lookup,
		Stdin:   strings.NewReader("sk-from-stdin\n"),
		Stdout:  &stdout,
		Stderr:  &stderr,
		Secrets: env.secrets,
	})
	if code != 0 {
		t.Fatalf("key set exit code = %d, stderr=%s", code, stderr.String())
	}
	if env.secrets[secrets.KeyAIAPIKey] != "sk-from-stdin" {
		t.Fatalf("stored key = %q", env.secrets[secrets.KeyAIAPIKey])
	}

	if _, _, code := env.run(t, "key", "delete"); code != 0 {
		t.Fatalf("key delete exit code = %d", code)
	}
	if _, ok := env.secrets[secrets.KeyAIAPIKey]; ok {
		t.Fatal("expected key to be removed")
	}

	if _, _, code := env.run(t, "key", "set", "  "); code != 2 {
		t.Fatalf("empty key exit code = %d, want 2", code)
	}
}

func TestUsageErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := [][]string{
		{"unknown"},
		{"ask"},
		{"ask", "--demo", "extra question"},
		{"ask", "--row-limit", "-1", "q"},
		{"ask", "--format", "xml", "q"},
		{"query"},
		{"schema", "extra"},
		{"ask", "--no-such-flag", "q"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, stderr, code := env.run(t, args...)
			if code != 2 {
				t.Fatalf("exit code = %d, want 2 (stderr=%s)", code, stderr)
			}
			if stderr == "" {
				t.Fatal("expected usage output")
			}
		})
	}
}

func TestInvalidConfigIsRuntimeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.values["ASKDB_DB_DRIVER"] = "oracle"

	_, stderr, code := env.run(t, "schema")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "ASKDB_DB_DRIVER") {
		t.Fatalf("stderr = %q", stderr)
	}
}

type testEnv struct {
	values     map[string]string
	translator *fakeTranslator
	secrets    memorySecrets
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		values: map[string]string{
			"ASKDB_DB_DRIVER": "sqlite",
			"ASKDB_DB_DSN":    filepath.Join(t.TempDir(), "chinook.db"),
			"ASKDB_LOG_LEVEL": "error",
		},
		translator: &fakeTranslator{replies: map[string]string{}, errs: map[string]error{}},
		secrets:    memorySecrets{},
	}
}

func (e *testEnv) lookup(key string) (string, bool) {
	value, ok := e.values[key]
	return value, ok
}

func (e *testEnv) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, Options{
		Lookup:     e.lookup,
		Stdout:     &stdout,
		Stderr:     &stderr,
		Translator: e.translator,
		Secrets:    e.secrets,
	})
	return stdout.String(), stderr.String(), code
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	if _, stderr, code := e.run(t, "seed"); code != 0 {
		t.Fatalf("seed exit code = %d, stderr=%s", code, stderr)
	}
}

type fakeTranslator struct {
	replies    map[string]string
	errs       map[string]error
	lastSchema string
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.lastSchema = req.Schema
	if err, ok := f.errs[req.Question]; ok {
		return nl2sql.Result{Provider: "fake"}, err
	}
	sql, ok := f.replies[req.Question]
	if !ok {
		return nl2sql.Result{Provider: "fake"}, errors.New("model unavailable")
	}
	return nl2sql.Result{SQL: sql, Provider: "fake", Model: "fake-1"}, nil
}

type memorySecrets map[string]string

func (m memorySecrets) Get(key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return value, nil
}

func (m memorySecrets) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m memorySecrets) Delete(key string) error {
	delete(m, key)
	return nil
}
