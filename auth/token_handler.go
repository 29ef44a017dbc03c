package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-pkgz/rest"

	"github.com/BookBrainz/bookbrainz-ws/logger"
)

const realm = "bookbrainz-ws"

// TokenHandler handles OAuth token endpoint requests.
type TokenHandler struct {
	validator RequestValidator
	cfg       TokenConfig
}

// NewTokenHandler constructs an http.Handler for the token endpoint.
func NewTokenHandler(v RequestValidator, cfg TokenConfig) http.Handler {
	return &TokenHandler{
		validator: v,
		cfg:       cfg,
	}
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := processTokenRequest(r, h.validator, h.cfg)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if result == nil || result.Token == nil {
		logger.Error(errors.New("token handler received empty token result"))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	response := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken:  result.Token.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.Token.RefreshToken,
		Scope:        strings.Join(result.Token.Scopes, " "),
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	rest.RenderJSON(w, response)
}

func (h *TokenHandler) handleError(w http.ResponseWriter, err error) {
	var tErr *tokenError
	if errors.As(err, &tErr) && tErr != nil {
		status := tErr.status
		if status == 0 {
			status = http.StatusBadRequest
		}
		if status >= http.StatusInternalServerError {
			logger.Error(err)
		}
		writeOAuthError(w, status, tErr.code.Error(), tErr.description, tErr.wwwAuthenticate, "Basic")
		return
	}

	logger.Error(err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// writeOAuthError renders an RFC 6749 / RFC 6750 error body. When challenge
// is set, a WWW-Authenticate header with the given scheme is added.
func writeOAuthError(w http.ResponseWriter, status int, code, description string, challenge bool, scheme string) {
	if challenge {
		w.Header().Set("WWW-Authenticate", scheme+` realm="`+realm+`", error="`+code+`"`)
	}

	response := map[string]string{
		"error": code,
	}
	if description != "" {
		response["error_description"] = description
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error(err)
	}
}

// WriteBearerError rejects a protected resource request with a Bearer challenge.
func WriteBearerError(w http.ResponseWriter, status int, code, description string) {
	writeOAuthError(w, status, code, description, true, "Bearer")
}
