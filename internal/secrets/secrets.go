// Package secrets keeps the model API key in the OS keyring so it does not
// have to live in a dotenv file.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const KeyAIAPIKey = "ai_api_key"

var ErrNotFound = errors.New("secret not found")

type Config struct {
	ServiceName string
	// FileDir enables the encrypted file backend, used where no OS keychain
	// is available. Password unlocks it.
	FileDir  string
	Password string
}

type Store struct {
	ring keyring.Keyring
}

func Open(cfg Config) (*Store, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "askdb"
	}
	ringCfg := keyring.Config{
		ServiceName:   service,
		PassPrefix:    service,
		WinCredPrefix: service,
	}
	if dir := strings.TrimSpace(cfg.FileDir); dir != "" {
		ringCfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
		ringCfg.FileDir = dir
		password := cfg.Password
		ringCfg.FilePasswordFunc = func(string) (string, error) {
			if password == "" {
				return "", fmt.Errorf("keyring password is required for the file backend")
			}
			return password, nil
		}
	}
	ring, err := keyring.Open(ringCfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewWithKeyring wraps an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Set(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("secret value is required")
	}
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: "askdb " + key}); err != nil {
		return fmt.Errorf("store secret %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Delete is a no-op for keys that are not stored.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete secret %q: %w", key, err)
	}
	return nil
}
