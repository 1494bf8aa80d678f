package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/contextkeys"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/observability"
)

// TokenAuthenticator resolves a bearer token to the caller identity.
// auth.TokenManager implements it.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	tokens   TokenAuthenticator
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenAuthenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.tokens.Authenticate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithIdentity adds the caller to ctx, and its user id to the log fields
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	if identity != nil {
		ctx = observability.WithUserID(ctx, identity.UserID.String())
	}
	return ctx
}

// IdentityFrom extracts the authenticated caller, or nil
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
