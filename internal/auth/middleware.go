package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Claims carries the verified identity of a request.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ContextKey is the type for context values owned by this package.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Roles (Architecture §7.2).
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes (Architecture §7.2). Reads need read, mutations need control,
// event streams need telemetry.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// probePaths are served without credentials so liveness checks work
// before any token infrastructure does.
var probePaths = map[string]bool{
	"/api/v1/health": true,
	"/api/v1/ready":  true,
}

// Middleware authenticates requests and enforces scopes. A nil verifier
// denies every authenticated route: the daemon fails closed when auth is
// enabled but misconfigured.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates the auth middleware around a token verifier.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth wraps a handler with bearer-token authentication. Verified
// claims are stored on the request context for RequireScope and for the
// audit trail.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probePaths[r.URL.Path] {
			next(w, r)
			return
		}

		token, err := m.extractBearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Authentication required")
			return
		}

		if m.verifier == nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Token verification not configured")
			return
		}
		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope wraps a handler with a scope check against the claims
// RequireAuth stored. All listed scopes must be present.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required")
				return
			}

			if !hasScopes(claims, requiredScopes) {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions")
				return
			}

			next(w, r)
		}
	}
}

func (m *Middleware) extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func hasScopes(claims *Claims, required []string) bool {
	if claims == nil {
		return false
	}
	for _, want := range required {
		found := false
		for _, scope := range claims.Scopes {
			if scope == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func claimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetClaimsFromRequest returns the verified claims of a request, or nil
// when the request was not authenticated.
func GetClaimsFromRequest(r *http.Request) *Claims {
	return claimsFromContext(r.Context())
}

// SubjectFromContext returns the authenticated subject carried by ctx.
// Unauthenticated contexts (auth disabled, internal callers) report the
// empty string; the audit layer substitutes its anonymous marker.
func SubjectFromContext(ctx context.Context) string {
	if claims := claimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// writeAuthError emits the API error envelope. Duplicated here rather
// than imported from the api package to keep auth free of route-layer
// dependencies.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	}
	_ = json.NewEncoder(w).Encode(response)
}
