package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_MissingToken(t *testing.T) {
	validator, _, _, _ := setupTestValidator(t)

	handler := Middleware(validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a token")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestMiddleware_NonBearerScheme(t *testing.T) {
	validator, _, _, _ := setupTestValidator(t)

	handler := Middleware(validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a basic-auth header")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	validator, _, _, _ := setupTestValidator(t)

	handler := Middleware(validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	validator, privateKey, issuer, audience := setupTestValidator(t)

	tokenString := createSignedToken(t, privateKey, issuer, audience, "user-123", map[string]interface{}{
		"role": "operator",
	})

	var seen *Claims
	handler := Middleware(validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if seen == nil {
		t.Fatal("claims not propagated to handler")
	}
	if seen.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", seen.Subject, "user-123")
	}
	if seen.Role != "operator" {
		t.Errorf("Role = %q, want %q", seen.Role, "operator")
	}
}

func TestMiddleware_ExcludedPath(t *testing.T) {
	validator, _, _, _ := setupTestValidator(t)

	handler := Middleware(validator, []string{"/healthz"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r) != nil {
			t.Error("excluded path carried claims")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireRole(t *testing.T) {
	validator, privateKey, issuer, audience := setupTestValidator(t)

	protected := Middleware(validator, nil)(
		RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	cases := []struct {
		name string
		role string
		want int
	}{
		{name: "matching role", role: "admin", want: http.StatusOK},
		{name: "wrong role", role: "viewer", want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokenString := createSignedToken(t, privateKey, issuer, audience, "user-123", map[string]interface{}{
				"role": tc.role,
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
			req.Header.Set("Authorization", "Bearer "+tokenString)
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without claims")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if claims := GetClaims(req); claims != nil {
		t.Errorf("GetClaims() = %v, want nil", claims)
	}
}
