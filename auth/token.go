package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/google/uuid"

	"github.com/BookBrainz/bookbrainz-ws/registry"
)

const (
	grantPassword          = "password"
	grantRefreshToken      = "refresh_token"
	grantAuthorizationCode = "authorization_code"
)

// TokenConfig controls what the token endpoint hands out.
type TokenConfig struct {
	AccessTokenTTL time.Duration
	// AllowedScopes restricts requestable scopes. Empty allows any scope.
	AllowedScopes []string
	// DefaultScopes are granted to a password request that names none.
	DefaultScopes []string
}

type tokenResult struct {
	Token     *BearerToken
	ExpiresIn int64
}

type tokenError struct {
	code            error
	description     string
	status          int
	wwwAuthenticate bool
}

func (e *tokenError) Error() string {
	if e.description != "" {
		return fmt.Sprintf("%s: %s", e.code, e.description)
	}
	return e.code.Error()
}

func (e *tokenError) Unwrap() error {
	return e.code
}

func newTokenError(code error, description string, status int, wwwAuthenticate bool) error {
	if description == "" {
		description = oauth2errors.Descriptions[code]
	}
	return &tokenError{
		code:            code,
		description:     description,
		status:          status,
		wwwAuthenticate: wwwAuthenticate,
	}
}

func invalidRequest(description string) error {
	return newTokenError(oauth2errors.ErrInvalidRequest, description, http.StatusBadRequest, false)
}

func invalidGrant(description string) error {
	return newTokenError(oauth2errors.ErrInvalidGrant, description, http.StatusBadRequest, false)
}

func invalidClient(description string) error {
	return newTokenError(oauth2errors.ErrInvalidClient, description, http.StatusUnauthorized, true)
}

func serverError(description string) error {
	return newTokenError(oauth2errors.ErrServerError, description, http.StatusInternalServerError, false)
}

// grantOutcome is what a grant-type step resolves before a token is minted.
type grantOutcome struct {
	user   *registry.User
	scopes []string
}

func processTokenRequest(r *http.Request, v RequestValidator, cfg TokenConfig) (*tokenResult, error) {
	if v == nil {
		return nil, serverError("token service misconfigured")
	}
	if cfg.AccessTokenTTL < time.Second {
		return nil, serverError("token expiration not configured")
	}

	if r.Method != http.MethodPost {
		return nil, invalidRequest("token endpoint requires POST")
	}

	if err := r.ParseForm(); err != nil {
		return nil, invalidRequest("unable to parse request body")
	}

	grantType := strings.TrimSpace(r.PostForm.Get("grant_type"))
	if grantType == "" {
		return nil, invalidRequest("grant_type is required")
	}

	client, err := authenticateClient(r, v)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var outcome *grantOutcome
	switch grantType {
	case grantPassword:
		outcome, err = passwordGrant(ctx, r, v, cfg)
	case grantRefreshToken:
		outcome, err = refreshTokenGrant(ctx, r, v, client)
	case grantAuthorizationCode:
		outcome, err = authorizationCodeGrant(ctx, r, v, client)
	default:
		return nil, newTokenError(oauth2errors.ErrUnsupportedGrantType,
			fmt.Sprintf("grant_type %q is not supported", grantType), http.StatusBadRequest, false)
	}
	if err != nil {
		return nil, err
	}

	if s, ok := disallowedScope(outcome.scopes, cfg.AllowedScopes); ok {
		return nil, newTokenError(oauth2errors.ErrInvalidScope, fmt.Sprintf("scope %q is not allowed", s), http.StatusBadRequest, false)
	}

	expiresIn := int64(cfg.AccessTokenTTL / time.Second)
	token, err := v.IssueToken(ctx, TokenFields{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresIn:    expiresIn,
		Scope:        strings.Join(outcome.scopes, " "),
	}, &TokenRequest{Client: client, User: outcome.user})
	if err != nil {
		return nil, serverError("unable to issue access token")
	}

	return &tokenResult{Token: token, ExpiresIn: expiresIn}, nil
}

func authenticateClient(r *http.Request, v RequestValidator) (*registry.Client, error) {
	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)

	if clientID == "" {
		return nil, invalidClient("client authentication failed")
	}

	client, err := v.AuthenticateClient(r.Context(), clientID, clientSecret)
	switch {
	case err == nil:
		return client, nil
	case errors.Is(err, ErrMalformedIdentifier):
		return nil, invalidClient("malformed client_id")
	case errors.Is(err, registry.ErrClientNotFound), errors.Is(err, ErrInvalidCredentials):
		return nil, invalidClient("client authentication failed")
	default:
		return nil, serverError("unable to load client")
	}
}

func passwordGrant(ctx context.Context, r *http.Request, v RequestValidator, cfg TokenConfig) (*grantOutcome, error) {
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		return nil, invalidRequest("username and password are required")
	}

	user, err := v.AuthenticateUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, invalidGrant("invalid resource owner credentials")
		}
		return nil, serverError("unable to authenticate user")
	}

	scopes := strings.Fields(r.PostForm.Get("scope"))
	if len(scopes) == 0 {
		scopes = append([]string(nil), cfg.DefaultScopes...)
	}

	return &grantOutcome{user: user, scopes: scopes}, nil
}

func refreshTokenGrant(ctx context.Context, r *http.Request, v RequestValidator, client *registry.Client) (*grantOutcome, error) {
	refresh := strings.TrimSpace(r.PostForm.Get("refresh_token"))
	if refresh == "" {
		return nil, invalidRequest("refresh_token is required")
	}

	old, err := v.GetToken(ctx, TokenKey{RefreshToken: refresh})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, invalidGrant("refresh token is invalid or expired")
		}
		return nil, serverError("unable to load refresh token")
	}
	// the access string resolves to the same record
	if old.RefreshToken != refresh {
		return nil, invalidGrant("refresh token is invalid or expired")
	}

	if old.ClientID != client.ID.String() {
		return nil, invalidGrant("refresh token was not issued to this client")
	}

	user, err := old.User(ctx, v)
	if err != nil {
		if errors.Is(err, registry.ErrUserNotFound) {
			return nil, invalidGrant("token owner no longer exists")
		}
		return nil, serverError("unable to load token owner")
	}

	scopes := strings.Fields(r.PostForm.Get("scope"))
	if len(scopes) == 0 {
		scopes = old.Scopes
	} else if !old.HasScopes(scopes...) {
		return nil, newTokenError(oauth2errors.ErrInvalidScope,
			"refresh may not widen the original scope", http.StatusBadRequest, false)
	}

	return &grantOutcome{user: user, scopes: scopes}, nil
}

func authorizationCodeGrant(ctx context.Context, r *http.Request, v RequestValidator, client *registry.Client) (*grantOutcome, error) {
	code := strings.TrimSpace(r.PostForm.Get("code"))
	if code == "" {
		return nil, invalidRequest("code is required")
	}

	grant, err := v.GetGrant(ctx, client.ID.String(), code)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return nil, invalidGrant("authorization code is invalid or expired")
		}
		return nil, serverError("unable to load authorization code")
	}

	if grant.RedirectURI != "" {
		redirect := strings.TrimSpace(r.PostForm.Get("redirect_uri"))
		if redirect == "" {
			return nil, invalidRequest("redirect_uri is required")
		}
		if redirect != grant.RedirectURI {
			return nil, invalidGrant("redirect_uri mismatch")
		}
	}

	user, err := v.FindUserByID(ctx, grant.UserID)
	if err != nil {
		if errors.Is(err, registry.ErrUserNotFound) {
			return nil, invalidGrant("grant owner no longer exists")
		}
		return nil, serverError("unable to load grant owner")
	}

	// codes are single use, even when issuing fails afterwards
	if err := v.InvalidateGrant(ctx, grant); err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return nil, invalidGrant("authorization code is invalid or expired")
		}
		return nil, serverError("unable to consume authorization code")
	}

	return &grantOutcome{user: user, scopes: grant.Scopes}, nil
}

// disallowedScope returns the first of scopes missing from allowed. An empty
// allowed list permits everything.
func disallowedScope(scopes, allowed []string) (string, bool) {
	if len(allowed) == 0 {
		return "", false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := set[s]; !ok {
			return s, true
		}
	}
	return "", false
}
