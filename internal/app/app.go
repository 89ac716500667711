// Package app builds the runtime components shared by the askdb binaries
// from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/secrets"
	"github.com/askdb/askdb/internal/seed"
	"github.com/askdb/askdb/internal/storage"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

// ErrNoAPIKey is returned when neither the configuration nor the keyring
// holds a model API key.
var ErrNoAPIKey = errors.New("no model API key configured; set ASKDB_AI_API_KEY or run `askdb key set`")

// SecretReader is the read side of secrets.Store.
type SecretReader interface {
	Get(key string) (string, error)
}

func DatabaseConfig(cfg config.Config) database.Config {
	return database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

func OpenDatabase(ctx context.Context, cfg config.Config) (*sql.DB, database.Dialect, error) {
	return database.Open(ctx, DatabaseConfig(cfg))
}

// SeedScript returns the configured script file, or the embedded sample.
func SeedScript(cfg config.Config) (seed.Script, error) {
	if path := strings.TrimSpace(cfg.Seed.ScriptPath); path != "" {
		return seed.FromFile(path)
	}
	return seed.Embedded()
}

func OpenSecrets(cfg config.Config) (*secrets.Store, error) {
	return secrets.Open(secrets.Config{
		ServiceName: cfg.Keyring.ServiceName,
		FileDir:     cfg.Keyring.FileDir,
		Password:    cfg.Keyring.Password,
	})
}

// ResolveAPIKey prefers the configured key and falls back to the keyring.
// A nil reader skips the keyring.
func ResolveAPIKey(cfg config.Config, reader SecretReader) (string, error) {
	if key := strings.TrimSpace(cfg.AI.APIKey); key != "" {
		return key, nil
	}
	if reader == nil {
		return "", ErrNoAPIKey
	}
	key, err := reader.Get(secrets.KeyAIAPIKey)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return "", ErrNoAPIKey
		}
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrNoAPIKey
	}
	return strings.TrimSpace(key), nil
}

// NewCompleter picks the model client for cfg.AI.Provider.
func NewCompleter(ctx context.Context, cfg config.Config, apiKey string) (nl2sql.Completer, error) {
	switch cfg.AI.Provider {
	case config.ProviderGemini:
		return nl2sql.NewGeminiCompleter(ctx, nl2sql.GeminiConfig{
			APIKey:      apiKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
		})
	case config.ProviderOpenAI:
		return nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      apiKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.AI.Provider)
	}
}

// NewFormatter loads cfg.AI.PromptTemplate when set, else the default template.
func NewFormatter(cfg config.Config, dialect database.Dialect) (*prompt.Formatter, error) {
	if path := strings.TrimSpace(cfg.AI.PromptTemplate); path != "" {
		return prompt.FromFile(path, dialect.DisplayName())
	}
	return prompt.New("", dialect.DisplayName())
}

func NewTranslator(ctx context.Context, cfg config.Config, dialect database.Dialect, reader SecretReader) (*nl2sql.ModelTranslator, error) {
	apiKey, err := ResolveAPIKey(cfg, reader)
	if err != nil {
		return nil, err
	}
	formatter, err := NewFormatter(cfg, dialect)
	if err != nil {
		return nil, err
	}
	completer, err := NewCompleter(ctx, cfg, apiKey)
	if err != nil {
		return nil, err
	}
	return nl2sql.NewModelTranslator(formatter, completer)
}

// NewObjectStore connects to the configured bucket. It returns nil when
// uploads are disabled.
func NewObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.Export.Upload {
		return nil, nil
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func NewExporter(ctx context.Context, cfg config.Config) (*export.Exporter, error) {
	store, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return export.NewExporter(cfg.Export.Dir, store), nil
}
