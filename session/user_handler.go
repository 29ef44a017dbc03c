package session

import (
	"errors"
	"net/http"

	"github.com/go-pkgz/rest"

	"github.com/BookBrainz/bookbrainz-ws/auth"
	"github.com/BookBrainz/bookbrainz-ws/logger"
	"github.com/BookBrainz/bookbrainz-ws/registry"
)

// UserHandler answers with the owner of the request's bearer token.
func UserHandler(users auth.UserFinder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := FromContext(r.Context())
		if !ok {
			auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_token", "access token is required")
			return
		}

		user, err := token.User(r.Context(), users)
		if err != nil {
			if errors.Is(err, registry.ErrUserNotFound) {
				auth.WriteBearerError(w, http.StatusUnauthorized, "invalid_token", "token owner no longer exists")
				return
			}
			logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		rest.RenderJSON(w, struct {
			UserID int64    `json:"user_id"`
			Name   string   `json:"name"`
			Email  string   `json:"email,omitempty"`
			Scopes []string `json:"scopes"`
		}{
			UserID: user.ID,
			Name:   user.Name,
			Email:  user.Email,
			Scopes: token.Scopes,
		})
	})
}
