package secrets

import (
	"context"
	"errors"

	"diagnosai/backend/pkg/config"
	"diagnosai/backend/pkg/logger"
)

// Secret keys resolved at startup
const (
	KeyGeminiAPIKey = "gemini_api_key"
	KeyJWTSecret    = "jwt_secret_key"
	KeyDBPassword   = "db_password"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Apply overrides the credentials in cfg with values from the manager.
// Values already present in cfg are kept when the manager has nothing.
func Apply(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	targets := map[string]*string{
		KeyGeminiAPIKey: &cfg.Gemini.APIKey,
		KeyJWTSecret:    &cfg.JWT.Secret,
		KeyDBPassword:   &cfg.Database.Password,
	}

	for key, dst := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*dst = value
		log.Debug("Secret resolved", "key", key)
	}

	if cfg.Gemini.APIKey == "" {
		log.Warn("No Gemini API key configured, diagnosis requests will fail")
	}
	return nil
}
