// Package registry looks up OAuth clients and users in the persistent identity store.
package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrClientNotFound indicates that no client matches the identifier.
	ErrClientNotFound = errors.New("client not found")
	// ErrUserNotFound indicates that no user matches the name or identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable wraps failures to reach the backing database.
	ErrUnavailable = errors.New("identity registry unavailable")
)

// Client represents an OAuth client application. A client without a secret is public.
type Client struct {
	ID          uuid.UUID
	Name        string
	Secret      string
	RedirectURI string
}

// Public reports whether the client authenticates by id alone.
func (c *Client) Public() bool {
	return c.Secret == ""
}

// User is a resource owner. Password holds a bcrypt hash, or is empty when no
// password has been set.
type User struct {
	ID       int64
	Name     string
	Email    string
	Password string
}

// Registry is the lookup surface the credential core depends on.
type Registry interface {
	FindClientByID(ctx context.Context, id uuid.UUID) (*Client, error)
	FindUserByName(ctx context.Context, name string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
}
