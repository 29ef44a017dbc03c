package auth

import (
	"context"
	"errors"
	"time"

	"github.com/BookBrainz/bookbrainz-ws/registry"
)

var (
	// ErrGrantNotFound indicates that no live grant is stored under the code.
	ErrGrantNotFound = errors.New("grant not found")
	// ErrTokenNotFound indicates that no live bearer token matches the key.
	ErrTokenNotFound = errors.New("token not found")
	// ErrInvalidTokenKey indicates a TokenKey naming neither or both token strings.
	ErrInvalidTokenKey = errors.New("exactly one of access token or refresh token is required")
	// ErrMalformedIdentifier indicates a client id that is not a valid UUID.
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrInvalidCredentials covers every failed user or client authentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Grant is a short-lived authorization code binding a client, a user, a
// redirect target and the approved scopes.
type Grant struct {
	ClientID    string
	UserID      int64
	Code        string
	RedirectURI string
	Expires     time.Time
	Scopes      []string
}

// BearerToken is an access/refresh pair issued to a client on behalf of a user.
// It is stored under both token strings.
type BearerToken struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	UserID       int64
	Scopes       []string
	Expires      time.Time
}

// TokenKey selects a bearer token by exactly one of its two strings.
type TokenKey struct {
	AccessToken  string
	RefreshToken string
}

// TokenFields are the values generated for a new token before it is persisted.
type TokenFields struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

// TokenRequest carries the authenticated parties of a token request.
type TokenRequest struct {
	Client *registry.Client
	User   *registry.User
}

// UserFinder resolves users by id.
type UserFinder interface {
	FindUserByID(ctx context.Context, id int64) (*registry.User, error)
}

// User looks up the owner of the token. It returns registry.ErrUserNotFound
// when the user has since been removed.
func (t *BearerToken) User(ctx context.Context, users UserFinder) (*registry.User, error) {
	return users.FindUserByID(ctx, t.UserID)
}

// HasScopes reports whether every one of scopes was granted to the token.
func (t *BearerToken) HasScopes(scopes ...string) bool {
	granted := make(map[string]struct{}, len(t.Scopes))
	for _, s := range t.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// ExpiresIn returns the whole seconds left before the token expires, never negative.
func (t *BearerToken) ExpiresIn(now time.Time) int64 {
	left := t.Expires.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
