package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BookBrainz/bookbrainz-ws/auth"
	"github.com/BookBrainz/bookbrainz-ws/logger"
)

type ctxKey string

const tokenContextKey ctxKey = "bearer-token"

// TokenGetter resolves a bearer token by its access or refresh string.
type TokenGetter interface {
	GetToken(ctx context.Context, key auth.TokenKey) (*auth.BearerToken, error)
}

// Manager guards protected routes with the bearer tokens issued by the token endpoint.
type Manager struct {
	tokens TokenGetter
}

func NewManager(tokens TokenGetter) *Manager {
	return &Manager{tokens: tokens}
}

// Middleware resolves the request's access token and stores it in the context.
// Requests without a live token are rejected with 401.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := accessTokenFromRequest(r)
		if access == "" {
			auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_request", "access token is required")
			return
		}

		token, err := m.tokens.GetToken(r.Context(), auth.TokenKey{AccessToken: access})
		if err != nil {
			if errors.Is(err, auth.ErrTokenNotFound) {
				auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
				return
			}
			logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		// a refresh string is stored under the same record but is not an access credential
		if token.AccessToken != access {
			auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenContextKey, token)))
	})
}

// RequireScopes rejects requests whose token lacks any of scopes with 403.
// It must run after Middleware.
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := FromContext(r.Context())
			if !ok {
				auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_token", "access token is required")
				return
			}
			if !token.HasScopes(scopes...) {
				auth.WriteBearerError(w, http.StatusForbidden, "insufficient_scope", "requires scope "+strings.Join(scopes, " "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromContext extracts the bearer token stored by the middleware.
func FromContext(ctx context.Context) (*auth.BearerToken, bool) {
	val, ok := ctx.Value(tokenContextKey).(*auth.BearerToken)
	return val, ok && val != nil
}

// accessTokenFromRequest reads the Authorization header only. Query strings
// end up in access logs.
func accessTokenFromRequest(r *http.Request) string {
	scheme, value, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(value)
	}
	return ""
}
