package auth

import (
	"context"
	"fmt"

	"github.com/kadirpekel/accord/pkg/config"
)

// NewValidatorFromConfig builds a JWTValidator from server auth
// configuration. It returns (nil, nil) when auth is disabled so the
// caller can skip installing the middleware.
func NewValidatorFromConfig(ctx context.Context, cfg *config.AuthConfig) (*JWTValidator, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	return NewJWTValidator(ctx, ValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: cfg.RefreshInterval,
	})
}
