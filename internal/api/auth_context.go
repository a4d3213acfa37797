package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/auth"
	"github.com/bookshelfapp/bookshelf-server/internal/domain"
)

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

// claimsKey is the context key for the verified access token claims.
const claimsKey ctxKey = "claims"

// TokenVerifier checks bearer tokens. service.AuthService implements it.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*auth.AccessClaims, error)
}

// GetIdentity returns the authenticated caller from context.
// Returns 401 error if the request carried no valid token.
func GetIdentity(ctx context.Context) (domain.Identity, error) {
	claims, ok := ctx.Value(claimsKey).(*auth.AccessClaims)
	if !ok || claims == nil || claims.UserID == "" {
		return domain.Identity{}, huma.Error401Unauthorized("Authentication required")
	}
	return claims.Identity(), nil
}

// setClaims stores the verified claims in context.
func setClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// authMiddleware returns a middleware that validates Bearer tokens and stores the claims in context.
// If no token is present or invalid, continues without a caller in context.
// Handlers use GetIdentity to check authentication.
func authMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				// Invalid token - continue without a caller (handler will reject if auth required)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(setClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
