package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/authgate/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures signing secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	secrets := []struct {
		key    string
		target *string
	}{
		{"auth.jwt.secret", &cfg.Auth.JWT.Secret},
		{"auth.jwt.refresh_secret", &cfg.Auth.JWT.RefreshSecret},
	}
	for _, s := range secrets {
		if strings.TrimSpace(*s.target) != "" {
			continue
		}
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", s.key, err)
		}
		*s.target = secret
		generated[s.key] = true
	}

	return generated, nil
}
