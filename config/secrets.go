package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. A
// KEY_FILE variable pointing at a file takes effect when KEY is unset, which
// matches how container orchestrators mount secrets.
type EnvironmentSecretStore struct {
	readFile func(string) ([]byte, error)
}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{readFile: os.ReadFile}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		b, err := s.readFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret %s: %w", key, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credential fields of cfg from store. Missing
// secrets leave the configured value in place.
func LoadSecretsFromEnv(ctx context.Context, cfg *Config, store SecretStore) error {
	if store == nil {
		store = NewEnvironmentSecretStore()
	}
	targets := []struct {
		key string
		dst *string
	}{
		{"LEARNKIT_SQL_DSN", &cfg.Storage.SQL.DSN},
		{"LEARNKIT_REDIS_PASSWORD", &cfg.Storage.Redis.Password},
		{"LEARNKIT_WEBHOOK_SECRET", &cfg.Webhooks.Secret},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		switch {
		case err == nil:
			*t.dst = v
		case errors.Is(err, ErrSecretNotFound):
		default:
			return err
		}
	}
	if keys, err := store.Get(ctx, "LEARNKIT_API_KEYS"); err == nil {
		cfg.Security.APIKeys = splitList(keys)
	} else if !errors.Is(err, ErrSecretNotFound) {
		return err
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
