package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// SettingsStore holds the loaded configuration with secrets resolved.
// Values stored as "enc:..." are decrypted with the master key; everything
// else passes through. Secrets are masked on the read path used by the API.
type SettingsStore struct {
	mu     sync.RWMutex
	logger *slog.Logger
	secret *SecretKey
	config *domain.AppConfig
}

// NewSettingsStore decrypts the secrets in cfg and validates provider modes.
// A nil secret is allowed as long as no value is encrypted.
func NewSettingsStore(logger *slog.Logger, cfg *domain.AppConfig, secret *SecretKey) (*SettingsStore, error) {
	s := &SettingsStore{logger: logger, secret: secret}

	cp := *cfg
	for _, field := range []struct {
		name string
		val  *string
	}{
		{"providers.llm.api_key", &cp.Providers.LLM.APIKey},
		{"providers.embed.api_key", &cp.Providers.Embed.APIKey},
		{"search.brave_api_key", &cp.Search.BraveAPIKey},
	} {
		plain, err := s.resolve(*field.val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.val = plain
	}

	if err := validate(&cp); err != nil {
		return nil, err
	}
	s.config = &cp
	return s, nil
}

func (s *SettingsStore) resolve(v string) (string, error) {
	if !strings.HasPrefix(v, encPrefix) {
		return v, nil
	}
	if s.secret == nil {
		return "", fmt.Errorf("encrypted value but no secret key")
	}
	return s.secret.Decrypt(v)
}

func validate(cfg *domain.AppConfig) error {
	switch cfg.Providers.LLM.Mode {
	case "local", "":
	case "remote":
		if cfg.Providers.LLM.APIKey == "" {
			return fmt.Errorf("LLM api_key is required when mode=remote")
		}
	default:
		return fmt.Errorf("unknown LLM mode %q", cfg.Providers.LLM.Mode)
	}
	switch cfg.Providers.Embed.Mode {
	case "local", "":
	case "remote":
		if cfg.Providers.Embed.APIKey == "" {
			return fmt.Errorf("embed api_key is required when mode=remote")
		}
	default:
		return fmt.Errorf("unknown embed mode %q", cfg.Providers.Embed.Mode)
	}
	switch cfg.Search.Index {
	case "memory", "duckdb", "":
	default:
		return fmt.Errorf("unknown search index %q", cfg.Search.Index)
	}
	return nil
}

// GetConfig returns a copy of the config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	return &cp
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	cp.Providers.LLM.APIKey = MaskSecret(cp.Providers.LLM.APIKey)
	cp.Providers.Embed.APIKey = MaskSecret(cp.Providers.Embed.APIKey)
	cp.Search.BraveAPIKey = MaskSecret(cp.Search.BraveAPIKey)
	return &cp
}
