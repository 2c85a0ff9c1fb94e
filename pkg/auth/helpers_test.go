package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func generateRSAKeyPair(t testing.TB) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func createJWKS(t testing.TB, publicKey *rsa.PublicKey) jwk.Set {
	t.Helper()
	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		t.Fatalf("failed to wrap public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("failed to set key id: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(key); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}
	return keyset
}

func createSignedToken(t testing.TB, privateKey *rsa.PrivateKey, issuer, audience, subject string, claims map[string]interface{}) string {
	t.Helper()
	token := jwt.New()

	set := func(key string, value interface{}) {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set claim %s: %v", key, err)
		}
	}
	set(jwt.IssuerKey, issuer)
	set(jwt.AudienceKey, audience)
	set(jwt.SubjectKey, subject)
	set(jwt.IssuedAtKey, time.Now())
	set(jwt.ExpirationKey, time.Now().Add(time.Hour))
	for key, value := range claims {
		set(key, value)
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
	return string(signed)
}

func startJWKSServer(t testing.TB, keyset jwk.Set) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keyset); err != nil {
			http.Error(w, "encode failure", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)
	return server.URL + "/.well-known/jwks.json"
}

func setupTestValidator(t testing.TB) (*JWTValidator, *rsa.PrivateKey, string, string) {
	t.Helper()
	privateKey, publicKey := generateRSAKeyPair(t)
	keyset := createJWKS(t, publicKey)
	jwksURL := startJWKSServer(t, keyset)

	issuer := "https://test-issuer.example.com"
	audience := "accord-api"

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	validator, err := NewJWTValidator(ctx, ValidatorConfig{
		JWKSURL:  jwksURL,
		Issuer:   issuer,
		Audience: audience,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator, privateKey, issuer, audience
}
