// package auth extracts and validates caller identity for the ledger HTTP
// surface. Validation is optional: with no shared secret configured the
// middleware only extracts what it sees, and role checks are skipped by the
// router setup.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyAuthInfo ctxKey = "ledger.authInfo"

// Canonical role names carried in the "roles" token claim.
const (
	RoleProducer = "Producer"
	RoleAuditor  = "Auditor"
)

// AuthInfo holds extracted authentication information for the request.
type AuthInfo struct {
	// Subject (sub claim) from a validated token.
	Subject string

	// Roles from the validated token's "roles" claim.
	Roles []string
}

// FromContext returns the AuthInfo stored in the request context, or nil.
func FromContext(ctx context.Context) *AuthInfo {
	v := ctx.Value(ctxKeyAuthInfo)
	if v == nil {
		return nil
	}
	if ai, ok := v.(*AuthInfo); ok {
		return ai
	}
	return nil
}

// NewMiddleware returns middleware that validates HS256 bearer tokens signed
// with secret and places the resulting AuthInfo into the request context.
// Requests without a valid token are rejected with 401.
func NewMiddleware(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "bearer token required", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !tok.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ai := &AuthInfo{}
			if sub, err := claims.GetSubject(); err == nil {
				ai.Subject = sub
			}
			if rv, ok := claims["roles"].([]interface{}); ok {
				for _, role := range rv {
					if s, ok := role.(string); ok {
						ai.Roles = append(ai.Roles, s)
					}
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyAuthInfo, ai)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HasRole returns true if the provided AuthInfo contains the requested role.
func HasRole(ai *AuthInfo, role string) bool {
	if ai == nil {
		return false
	}
	for _, r := range ai.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that allows the request to continue only if
// the request's AuthInfo has the given role. Otherwise 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HasRole(FromContext(r.Context()), role) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
