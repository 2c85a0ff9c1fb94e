// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth validates JWT bearer tokens against a provider's JWKS.
//
// The validator fetches and caches the provider's key set, refreshing
// it periodically to survive key rotation. The HTTP middleware guards
// the server's negotiation endpoints and places the validated claims on
// the request context.
//
// Configure under the server section:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "accord-api"
package auth

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const claimsContextKey contextKey = "accord_auth_claims"

// Claims carries the validated identity of a request. The standard
// fields cover common identity providers; everything else lands in
// Custom.
type Claims struct {
	// Subject is the unique user identifier (sub claim).
	Subject string `json:"sub"`

	// Email of the user, when the provider includes it.
	Email string `json:"email,omitempty"`

	// Role of the user, for role-gated endpoints.
	Role string `json:"role,omitempty"`

	// TenantID scopes the user in multi-tenant deployments.
	TenantID string `json:"tenant_id,omitempty"`

	// Custom holds the remaining non-standard claims.
	Custom map[string]any `json:"-"`
}

// WithClaims returns a context carrying the claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the validated claims, or nil when the
// request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
