package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Seed          SeedConfig
	AI            AIConfig
	Query         QueryConfig
	Display       DisplayConfig
	Export        ExportConfig
	ObjectStore   ObjectStoreConfig
	Keyring       KeyringConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type SeedConfig struct {
	ScriptPath string
	AutoApply  bool
}

type AIConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	PromptTemplate string
}

type QueryConfig struct {
	RowLimit int
	ReadOnly bool
}

type DisplayConfig struct {
	Format      string
	MaxRows     int
	MaxColWidth int
}

type ExportConfig struct {
	Dir    string
	Upload bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type KeyringConfig struct {
	ServiceName string
	FileDir     string
	Password    string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadFromEnv reads the process environment, falling back to a dotenv file
// (ASKDB_ENV_FILE, default ".env") for keys the environment does not set.
func LoadFromEnv(serviceName string) (Config, error) {
	envFile := ".env"
	if raw, ok := os.LookupEnv("ASKDB_ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
		envFile = strings.TrimSpace(raw)
	}
	fileLookup, err := DotEnvLookup(envFile)
	if err != nil {
		return Config{}, err
	}
	return Load(serviceName, ChainLookup(os.LookupEnv, fileLookup))
}

// DotEnvLookup parses path with godotenv. A missing file yields an empty lookup.
// Hyphens in key names are read as underscores, so GOOGLE-API-KEY and
// GOOGLE_API_KEY name the same entry.
func DotEnvLookup(path string) (LookupFunc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return func(string) (string, bool) { return "", false }, nil
		}
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}
	values, err := godotenv.Parse(strings.NewReader(normalizeDotEnvKeys(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("parse env file %q: %w", path, err)
	}
	return func(key string) (string, bool) {
		value, ok := values[dotEnvKey(key)]
		return value, ok
	}, nil
}

func dotEnvKey(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}

// normalizeDotEnvKeys rewrites the key of each assignment line and leaves
// values, comments and continuation lines untouched.
func normalizeDotEnvKeys(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.IndexAny(line, "=:")
		if eq <= 0 {
			continue
		}
		key := line[:eq]
		if !strings.Contains(key, "-") || strings.ContainsAny(key, "\"'`") {
			continue
		}
		lines[i] = dotEnvKey(key) + line[eq:]
	}
	return strings.Join(lines, "\n")
}

// ChainLookup returns the first hit across lookups, in order.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "ASKDB_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "ASKDB_DB_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "ASKDB_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "ASKDB_DB_SCHEMA", &cfg.Database.SchemaName) },
		func() error { return applyInt(lookup, "ASKDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKDB_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "ASKDB_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "ASKDB_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, "ASKDB_SEED_SCRIPT", &cfg.Seed.ScriptPath) },
		func() error { return applyBool(lookup, "ASKDB_SEED_AUTO_APPLY", &cfg.Seed.AutoApply) },
		func() error { return applyString(lookup, "ASKDB_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "ASKDB_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "ASKDB_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyString(lookup, "ASKDB_AI_PROMPT_TEMPLATE", &cfg.AI.PromptTemplate) },
		func() error { return applyInt(lookup, "ASKDB_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyBool(lookup, "ASKDB_QUERY_READ_ONLY", &cfg.Query.ReadOnly) },
		func() error { return applyString(lookup, "ASKDB_DISPLAY_FORMAT", &cfg.Display.Format) },
		func() error { return applyInt(lookup, "ASKDB_DISPLAY_MAX_ROWS", &cfg.Display.MaxRows) },
		func() error { return applyInt(lookup, "ASKDB_DISPLAY_MAX_COL_WIDTH", &cfg.Display.MaxColWidth) },
		func() error { return applyString(lookup, "ASKDB_EXPORT_DIR", &cfg.Export.Dir) },
		func() error { return applyBool(lookup, "ASKDB_EXPORT_UPLOAD", &cfg.Export.Upload) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "ASKDB_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "ASKDB_KEYRING_SERVICE", &cfg.Keyring.ServiceName) },
		func() error { return applyString(lookup, "ASKDB_KEYRING_DIR", &cfg.Keyring.FileDir) },
		func() error { return applyString(lookup, "ASKDB_KEYRING_PASSWORD", &cfg.Keyring.Password) },
		func() error { return applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "ASKDB_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "ASKDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	cfg.Display.Format = strings.ToLower(cfg.Display.Format)
	if _, ok := lookup("ASKDB_AI_MODEL"); !ok {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	cfg.AI.APIKey = resolveAPIKey(lookup, cfg.AI.Provider)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_DB_DRIVER: %q", cfg.Database.Driver)
	}
	switch cfg.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	switch cfg.Display.Format {
	case FormatTable, FormatJSON, FormatCSV:
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_DISPLAY_FORMAT: %q", cfg.Display.Format)
	}
	if cfg.Query.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid ASKDB_QUERY_ROW_LIMIT: must be >= 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "Chinook.db",
			SchemaName:      "",
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Seed: SeedConfig{
			ScriptPath: "",
			AutoApply:  false,
		},
		AI: AIConfig{
			Provider:    ProviderGemini,
			BaseURL:     "https://api.openai.com",
			Model:       defaultModel(ProviderGemini),
			Temperature: 0,
			Timeout:     30 * time.Second,
		},
		Query: QueryConfig{
			RowLimit: 0,
			ReadOnly: false,
		},
		Display: DisplayConfig{
			Format:      FormatTable,
			MaxRows:     20,
			MaxColWidth: 100,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askdb",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Keyring: KeyringConfig{
			ServiceName: "askdb",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.Auth.Required = true
		cfg.Query.ReadOnly = true
		cfg.Query.RowLimit = 1000
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "gemini-2.0-flash"
	}
}

// resolveAPIKey prefers ASKDB_AI_API_KEY, then the provider's conventional
// variable names.
func resolveAPIKey(lookup LookupFunc, provider string) string {
	candidates := []string{"ASKDB_AI_API_KEY"}
	switch provider {
	case ProviderGemini:
		candidates = append(candidates, "GOOGLE_API_KEY", "GOOGLE-API-KEY", "GEMINI_API_KEY")
	case ProviderOpenAI:
		candidates = append(candidates, "OPENAI_API_KEY")
	}
	for _, key := range candidates {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			return strings.TrimSpace(raw)
		}
	}
	return ""
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
