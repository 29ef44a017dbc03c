package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/BookBrainz/bookbrainz-ws/clock"
	"github.com/BookBrainz/bookbrainz-ws/logger"
	"github.com/BookBrainz/bookbrainz-ws/registry"
)

// RequestValidator is everything the token endpoint asks of the credential core.
type RequestValidator interface {
	UserFinder
	GetClient(ctx context.Context, clientID string) (*registry.Client, error)
	AuthenticateClient(ctx context.Context, clientID, secret string) (*registry.Client, error)
	AuthenticateUser(ctx context.Context, username, password string) (*registry.User, error)
	GetToken(ctx context.Context, key TokenKey) (*BearerToken, error)
	GetGrant(ctx context.Context, clientID, code string) (*Grant, error)
	SaveGrant(ctx context.Context, g *Grant) error
	InvalidateGrant(ctx context.Context, g *Grant) error
	IssueToken(ctx context.Context, fields TokenFields, req *TokenRequest) (*BearerToken, error)
}

// Validator implements RequestValidator over a credential Store and an identity registry.
type Validator struct {
	store    *Store
	registry registry.Registry
	clock    clock.Clock
}

// NewValidator wires a Validator. The same clock should back the Store.
func NewValidator(store *Store, reg registry.Registry, clk clock.Clock) *Validator {
	return &Validator{store: store, registry: reg, clock: clk}
}

// GetClient parses clientID as a UUID and looks the client up. A malformed id
// yields ErrMalformedIdentifier, an unknown one registry.ErrClientNotFound.
func (v *Validator) GetClient(ctx context.Context, clientID string) (*registry.Client, error) {
	id, err := uuid.Parse(strings.TrimSpace(clientID))
	if err != nil {
		return nil, fmt.Errorf("%w: client_id %q", ErrMalformedIdentifier, clientID)
	}
	return v.registry.FindClientByID(ctx, id)
}

// AuthenticateClient checks the secret of a confidential client. Public
// clients are accepted on their id alone.
func (v *Validator) AuthenticateClient(ctx context.Context, clientID, secret string) (*registry.Client, error) {
	client, err := v.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Public() {
		return client, nil
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(secret)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// AuthenticateUser verifies password against the stored bcrypt hash. An
// unknown user, a user without a password, and a wrong password all yield
// ErrInvalidCredentials.
func (v *Validator) AuthenticateUser(ctx context.Context, username, password string) (*registry.User, error) {
	user, err := v.registry.FindUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, registry.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Password == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Warn("user %d has an unusable password hash: %v", user.ID, err)
		}
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// FindUserByID resolves token and grant owners.
func (v *Validator) FindUserByID(ctx context.Context, id int64) (*registry.User, error) {
	return v.registry.FindUserByID(ctx, id)
}

func (v *Validator) GetToken(ctx context.Context, key TokenKey) (*BearerToken, error) {
	return v.store.LoadToken(ctx, key)
}

// GetGrant loads the grant for code. A grant issued to another client is
// reported as ErrGrantNotFound.
func (v *Validator) GetGrant(ctx context.Context, clientID, code string) (*Grant, error) {
	g, err := v.store.LoadGrant(ctx, code)
	if err != nil {
		return nil, err
	}
	if g.ClientID != clientID {
		return nil, ErrGrantNotFound
	}
	return g, nil
}

func (v *Validator) SaveGrant(ctx context.Context, g *Grant) error {
	return v.store.SaveGrant(ctx, g)
}

// InvalidateGrant consumes g. It returns ErrGrantNotFound when the code was
// already consumed or has expired in the meantime.
func (v *Validator) InvalidateGrant(ctx context.Context, g *Grant) error {
	if _, err := v.store.TakeGrant(ctx, g.Code); err != nil {
		return err
	}
	logger.Debug("authorization code for client %s consumed", g.ClientID)
	return nil
}

// IssueToken persists a token built from fields for the client and user of
// req, revoking whatever token that user held before.
func (v *Validator) IssueToken(ctx context.Context, fields TokenFields, req *TokenRequest) (*BearerToken, error) {
	if req == nil || req.Client == nil || req.User == nil {
		return nil, logger.LogErr(errors.New("token request needs an authenticated client and user"))
	}
	if fields.ExpiresIn <= 0 {
		return nil, logger.LogErr(fmt.Errorf("token lifetime must be positive, got %d", fields.ExpiresIn))
	}

	t := &BearerToken{
		AccessToken:  fields.AccessToken,
		RefreshToken: fields.RefreshToken,
		ClientID:     req.Client.ID.String(),
		UserID:       req.User.ID,
		Scopes:       strings.Fields(fields.Scope),
		Expires:      v.clock.Now().Add(time.Duration(fields.ExpiresIn) * time.Second),
	}

	if err := v.store.ReplaceCurrentToken(ctx, t); err != nil {
		return nil, err
	}
	logger.Debug("issued token to user %d for client %s, previous token revoked", t.UserID, t.ClientID)
	return t, nil
}

// HashPassword returns the bcrypt hash stored for a user's password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
