package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ValidatorConfig configures a JWTValidator.
type ValidatorConfig struct {
	// JWKSURL is where the provider publishes its key set.
	JWKSURL string

	// Issuer every token must carry (iss claim).
	Issuer string

	// Audience every token must carry (aud claim).
	Audience string

	// RefreshInterval is the minimum JWKS refresh period. Zero means
	// 15 minutes.
	RefreshInterval time.Duration
}

// JWTValidator validates bearer tokens against a provider's JWKS. The
// key set is cached and refreshed in the background so key rotation
// needs no restart.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWTValidator builds a validator and fetches the key set once to
// fail fast on a bad URL. The context bounds the background refresh
// goroutine's lifetime.
func NewJWTValidator(ctx context.Context, cfg ValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken verifies the token's signature against the cached key
// set plus its expiry, issuer, and audience, and returns the claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claimsFromToken(ctx, token), nil
}

func claimsFromToken(ctx context.Context, token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}

	if email, ok := token.Get("email"); ok {
		claims.Email, _ = email.(string)
	}
	if role, ok := token.Get("role"); ok {
		claims.Role, _ = role.(string)
	}
	if tenant, ok := token.Get("tenant_id"); ok {
		claims.TenantID, _ = tenant.(string)
	}

	standard := map[string]bool{
		"sub": true, "email": true, "role": true, "tenant_id": true,
		"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true,
	}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, _ := pair.Key.(string)
		if !standard[key] {
			claims.Custom[key] = pair.Value
		}
	}

	return claims
}
