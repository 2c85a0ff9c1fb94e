package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func TestValidateToken_ValidToken(t *testing.T) {
	validator, privateKey, issuer, audience := setupTestValidator(t)

	tokenString := createSignedToken(t, privateKey, issuer, audience, "user-123", map[string]interface{}{
		"email":     "negotiator@example.com",
		"role":      "operator",
		"tenant_id": "tenant-7",
		"team":      "procurement",
	})

	claims, err := validator.ValidateToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if claims.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-123")
	}
	if claims.Email != "negotiator@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "negotiator@example.com")
	}
	if claims.Role != "operator" {
		t.Errorf("Role = %q, want %q", claims.Role, "operator")
	}
	if claims.TenantID != "tenant-7" {
		t.Errorf("TenantID = %q, want %q", claims.TenantID, "tenant-7")
	}
	if team, ok := claims.Custom["team"].(string); !ok || team != "procurement" {
		t.Errorf("Custom[team] = %v, want %q", claims.Custom["team"], "procurement")
	}
	if _, present := claims.Custom["sub"]; present {
		t.Error("standard claim sub leaked into Custom")
	}
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	validator, privateKey, _, audience := setupTestValidator(t)

	tokenString := createSignedToken(t, privateKey, "https://rogue-issuer.example.com", audience, "user-123", nil)

	if _, err := validator.ValidateToken(context.Background(), tokenString); err == nil {
		t.Fatal("ValidateToken() accepted token from wrong issuer")
	}
}

func TestValidateToken_WrongAudience(t *testing.T) {
	validator, privateKey, issuer, _ := setupTestValidator(t)

	tokenString := createSignedToken(t, privateKey, issuer, "some-other-api", "user-123", nil)

	if _, err := validator.ValidateToken(context.Background(), tokenString); err == nil {
		t.Fatal("ValidateToken() accepted token with wrong audience")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	validator, privateKey, issuer, audience := setupTestValidator(t)

	token := jwt.New()
	for key, value := range map[string]interface{}{
		jwt.IssuerKey:     issuer,
		jwt.AudienceKey:   audience,
		jwt.SubjectKey:    "user-123",
		jwt.IssuedAtKey:   time.Now().Add(-2 * time.Hour),
		jwt.ExpirationKey: time.Now().Add(-time.Hour),
	} {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set claim %s: %v", key, err)
		}
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to wrap private key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("failed to set key id: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.ValidateToken(context.Background(), string(signed)); err == nil {
		t.Fatal("ValidateToken() accepted expired token")
	}
}

func TestValidateToken_WrongSigningKey(t *testing.T) {
	validator, _, issuer, audience := setupTestValidator(t)

	rogueKey, _ := generateRSAKeyPair(t)
	tokenString := createSignedToken(t, rogueKey, issuer, audience, "user-123", nil)

	_, err := validator.ValidateToken(context.Background(), tokenString)
	if err == nil {
		t.Fatal("ValidateToken() accepted token signed with unknown key")
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	validator, _, _, _ := setupTestValidator(t)

	_, err := validator.ValidateToken(context.Background(), "not-a-jwt")
	if err == nil {
		t.Fatal("ValidateToken() accepted garbage")
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestNewJWTValidator_UnreachableJWKS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewJWTValidator(ctx, ValidatorConfig{
		JWKSURL:  "http://127.0.0.1:1/jwks.json",
		Issuer:   "https://test-issuer.example.com",
		Audience: "accord-api",
	})
	if err == nil {
		t.Fatal("NewJWTValidator() succeeded with unreachable JWKS URL")
	}
}

func TestNewJWTValidator_MissingURL(t *testing.T) {
	if _, err := NewJWTValidator(context.Background(), ValidatorConfig{}); err == nil {
		t.Fatal("NewJWTValidator() succeeded without a JWKS URL")
	}
}
