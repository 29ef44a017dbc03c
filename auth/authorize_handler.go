package auth

import (
	"errors"
	"net/http"
	"net/url"

	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"

	"github.com/BookBrainz/bookbrainz-ws/clock"
	"github.com/BookBrainz/bookbrainz-ws/logger"
)

// AuthorizeHandler handles authorization code requests.
type AuthorizeHandler struct {
	validator RequestValidator
	clock     clock.Clock
	cfg       AuthorizeConfig
}

// NewAuthorizeHandler constructs an http.Handler for the authorization endpoint.
func NewAuthorizeHandler(v RequestValidator, clk clock.Clock, cfg AuthorizeConfig) http.Handler {
	return &AuthorizeHandler{validator: v, clock: clk, cfg: cfg}
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		logger.Error(errors.New("authorize handler misconfigured: nil clock"))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	redirect, err := processAuthorizationRequest(r, h.validator, h.clock.Now(), h.cfg)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (h *AuthorizeHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *authorizationError
	if !errors.As(err, &authErr) || authErr == nil {
		logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if errors.Is(authErr, oauth2errors.ErrServerError) {
		logger.Error(err)
	}

	if authErr.redirect != nil {
		redirect := appendErrorQuery(authErr.redirect, authErr.code.Error(), authErr.description, authErr.state)
		http.Redirect(w, r, redirect.String(), http.StatusFound)
		return
	}

	status := authErr.status
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeOAuthError(w, status, authErr.code.Error(), authErr.description, false, "")
}

func appendErrorQuery(base *url.URL, code, description, state string) *url.URL {
	redirect := *base
	query := redirect.Query()
	query.Set("error", code)
	if description != "" {
		query.Set("error_description", description)
	}
	if state != "" {
		query.Set("state", state)
	}
	redirect.RawQuery = query.Encode()
	return &redirect
}
