package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("askdb", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.DSN != "Chinook.db" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.AI.Provider != ProviderGemini || cfg.AI.Model != "gemini-2.0-flash" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.Query.ReadOnly {
		t.Fatal("Query.ReadOnly should default to false in dev")
	}
	if cfg.Display.MaxRows != 20 || cfg.Display.MaxColWidth != 100 {
		t.Fatalf("Display = %+v", cfg.Display)
	}
	if cfg.AI.APIKey != "" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("askdb-api", mapLookup(map[string]string{"ASKDB_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if !cfg.Query.ReadOnly {
		t.Fatal("Query.ReadOnly should default to true in prod")
	}
	if cfg.Query.RowLimit != 1000 {
		t.Fatalf("Query.RowLimit = %d", cfg.Query.RowLimit)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("askdb", mapLookup(map[string]string{
		"ASKDB_PROFILE":           "test",
		"ASKDB_HTTP_ADDR":         ":9999",
		"ASKDB_DB_DRIVER":         "Postgres",
		"ASKDB_DB_DSN":            "postgres://example",
		"ASKDB_DB_SCHEMA":         "chinook",
		"ASKDB_DB_MAX_OPEN_CONNS": "42",
		"ASKDB_AI_PROVIDER":       "openai",
		"ASKDB_AI_BASE_URL":       "https://api.example.com",
		"OPENAI_API_KEY":          "secret-key",
		"ASKDB_AI_TEMPERATURE":    "0.3",
		"ASKDB_AI_TIMEOUT":        "21s",
		"ASKDB_QUERY_ROW_LIMIT":   "50",
		"ASKDB_QUERY_READ_ONLY":   "true",
		"ASKDB_DISPLAY_FORMAT":    "JSON",
		"ASKDB_EXPORT_DIR":        "/tmp/exports",
		"ASKDB_EXPORT_UPLOAD":     "true",
		"ASKDB_LOG_LEVEL":         "error",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.Database.SchemaName != "chinook" || cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.AI.Provider != ProviderOpenAI || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.Query.RowLimit != 50 || !cfg.Query.ReadOnly {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Display.Format != FormatJSON {
		t.Fatalf("Display.Format = %q", cfg.Display.Format)
	}
	if cfg.Export.Dir != "/tmp/exports" || !cfg.Export.Upload {
		t.Fatalf("Export = %+v", cfg.Export)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadResolvesGoogleAPIKeyVariants(t *testing.T) {
	cfg, err := Load("askdb", mapLookup(map[string]string{"GOOGLE-API-KEY": "g-key"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "g-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}

	cfg, err = Load("askdb", mapLookup(map[string]string{
		"GOOGLE_API_KEY":   "g-key",
		"ASKDB_AI_API_KEY": "explicit",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "explicit" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKDB_PROFILE": "oops"},
		{"ASKDB_HTTP_READ_TIMEOUT": "NaN"},
		{"ASKDB_DB_MAX_OPEN_CONNS": "oops"},
		{"ASKDB_DB_DRIVER": "oracle"},
		{"ASKDB_AI_PROVIDER": "unknown"},
		{"ASKDB_AI_TEMPERATURE": "bad"},
		{"ASKDB_QUERY_ROW_LIMIT": "-1"},
		{"ASKDB_DISPLAY_FORMAT": "xml"},
		{"ASKDB_AUTH_REQUIRED": "not-bool"},
		{"ASKDB_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("askdb", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestDotEnvLookupReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GOOGLE_API_KEY=from-file\nASKDB_DB_DSN=sample.db\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	fileLookup, err := DotEnvLookup(path)
	if err != nil {
		t.Fatalf("DotEnvLookup() error = %v", err)
	}

	lookup := ChainLookup(mapLookup(map[string]string{"ASKDB_DB_DSN": "override.db"}), fileLookup)
	cfg, err := Load("askdb", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "from-file" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.Database.DSN != "override.db" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
}

func TestDotEnvLookupAcceptsHyphenatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# gemini\nGOOGLE-API-KEY=abc123\nASKDB_EXPORT_DIR=out-dir\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	fileLookup, err := DotEnvLookup(path)
	if err != nil {
		t.Fatalf("DotEnvLookup() error = %v", err)
	}
	if value, ok := fileLookup("GOOGLE-API-KEY"); !ok || value != "abc123" {
		t.Fatalf("lookup(GOOGLE-API-KEY) = %q, %v", value, ok)
	}

	cfg, err := Load("askdb", fileLookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "abc123" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.Export.Dir != "out-dir" {
		t.Fatalf("Export.Dir = %q", cfg.Export.Dir)
	}
}

func TestDotEnvLookupMissingFile(t *testing.T) {
	lookup, err := DotEnvLookup(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("DotEnvLookup() error = %v", err)
	}
	if _, ok := lookup("ANY"); ok {
		t.Fatal("expected empty lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
