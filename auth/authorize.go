package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/google/uuid"

	"github.com/BookBrainz/bookbrainz-ws/registry"
)

// AuthorizeConfig controls the grants handed out by the authorization endpoint.
type AuthorizeConfig struct {
	GrantTTL      time.Duration
	AllowedScopes []string
	DefaultScopes []string
}

type authorizationError struct {
	code        error
	description string
	status      int
	// redirect is set once the redirect target has been validated; errors
	// are then reported to the client through it.
	redirect *url.URL
	state    string
}

func (e *authorizationError) Error() string {
	if e.description != "" {
		return fmt.Sprintf("%s: %s", e.code, e.description)
	}
	return e.code.Error()
}

func (e *authorizationError) Unwrap() error {
	return e.code
}

type authorizationRequest struct {
	client      *registry.Client
	redirect    *url.URL
	rawRedirect string
	state       string
}

func (a *authorizationRequest) fail(code error, description string) error {
	return &authorizationError{code: code, description: description, redirect: a.redirect, state: a.state}
}

func newAuthorizationError(code error, description string, status int) error {
	return &authorizationError{code: code, description: description, status: status}
}

// processAuthorizationRequest authenticates the resource owner and stores a
// grant for the requesting client. It returns the redirect carrying the code.
func processAuthorizationRequest(r *http.Request, v RequestValidator, now time.Time, cfg AuthorizeConfig) (*url.URL, error) {
	if v == nil || cfg.GrantTTL < time.Second {
		return nil, newAuthorizationError(oauth2errors.ErrServerError, "authorization service misconfigured", http.StatusInternalServerError)
	}
	if r.Method != http.MethodPost {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "authorization request must use POST", http.StatusBadRequest)
	}
	if err := r.ParseForm(); err != nil {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "unable to parse request parameters", http.StatusBadRequest)
	}

	authReq, err := resolveAuthorizationTarget(r.Context(), r.PostForm, v)
	if err != nil {
		return nil, err
	}

	if rt := r.PostForm.Get("response_type"); rt != "code" {
		return nil, authReq.fail(oauth2errors.ErrUnsupportedResponseType, `response_type must be "code"`)
	}

	scopes := strings.Fields(r.PostForm.Get("scope"))
	if len(scopes) == 0 {
		scopes = append([]string(nil), cfg.DefaultScopes...)
	}
	if s, ok := disallowedScope(scopes, cfg.AllowedScopes); ok {
		return nil, authReq.fail(oauth2errors.ErrInvalidScope, fmt.Sprintf("scope %q is not allowed", s))
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		return nil, authReq.fail(oauth2errors.ErrInvalidRequest, "username and password are required")
	}

	user, err := v.AuthenticateUser(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, authReq.fail(oauth2errors.ErrAccessDenied, "invalid resource owner credentials")
		}
		return nil, authReq.fail(oauth2errors.ErrServerError, "unable to authenticate user")
	}

	grant := &Grant{
		ClientID:    authReq.client.ID.String(),
		UserID:      user.ID,
		Code:        uuid.NewString(),
		RedirectURI: authReq.rawRedirect,
		Expires:     now.Add(cfg.GrantTTL),
		Scopes:      scopes,
	}
	if err := v.SaveGrant(r.Context(), grant); err != nil {
		return nil, authReq.fail(oauth2errors.ErrServerError, "unable to store authorization code")
	}

	redirect := *authReq.redirect
	query := redirect.Query()
	query.Set("code", grant.Code)
	if authReq.state != "" {
		query.Set("state", authReq.state)
	}
	redirect.RawQuery = query.Encode()
	return &redirect, nil
}

// resolveAuthorizationTarget identifies the client and the URI to send the
// user back to. Until both are known errors cannot be redirected.
func resolveAuthorizationTarget(ctx context.Context, form url.Values, v RequestValidator) (*authorizationRequest, error) {
	clientID := strings.TrimSpace(form.Get("client_id"))
	if clientID == "" {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "client_id is required", http.StatusBadRequest)
	}

	client, err := v.GetClient(ctx, clientID)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedIdentifier):
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "malformed client_id", http.StatusBadRequest)
	case errors.Is(err, registry.ErrClientNotFound):
		return nil, newAuthorizationError(oauth2errors.ErrInvalidClient, "unknown client", http.StatusBadRequest)
	default:
		return nil, newAuthorizationError(oauth2errors.ErrServerError, "unable to load client", http.StatusInternalServerError)
	}

	raw := strings.TrimSpace(form.Get("redirect_uri"))
	target := raw
	if target == "" {
		target = client.RedirectURI
	}
	if target == "" {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "redirect_uri is required", http.StatusBadRequest)
	}
	if client.RedirectURI != "" && target != client.RedirectURI {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "redirect_uri does not match the registered one", http.StatusBadRequest)
	}

	redirect, err := url.Parse(target)
	if err != nil || !redirect.IsAbs() {
		return nil, newAuthorizationError(oauth2errors.ErrInvalidRequest, "redirect_uri must be an absolute URI", http.StatusBadRequest)
	}

	return &authorizationRequest{
		client:      client,
		redirect:    redirect,
		rawRedirect: raw,
		state:       form.Get("state"),
	}, nil
}
