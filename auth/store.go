package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BookBrainz/bookbrainz-ws/cache"
	"github.com/BookBrainz/bookbrainz-ws/clock"
	"github.com/BookBrainz/bookbrainz-ws/logger"
)

const (
	expiresLayout = "2006-01-02 15:04:05"

	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldClientID     = "client_id"
	fieldUserID       = "user_id"
	fieldRedirectURI  = "redirect_uri"
	fieldExpires      = "expires"
	fieldScopes       = "scopes"

	currentTokenPrefix = "current:"
)

// Cache is the subset of the expiring hash store the credential store needs.
type Cache interface {
	SetFields(ctx context.Context, key string, fields map[string]string) error
	GetAllFields(ctx context.Context, key string) (map[string]string, error)
	TakeAllFields(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, keys ...string) error
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	ReplaceLinked(ctx context.Context, r cache.Replacement) error
}

// Store persists grants and bearer tokens in the cache. Every record expires
// from the cache at its own expiry time.
type Store struct {
	cache Cache
	clock clock.Clock
}

// NewStore constructs a Store over c, computing remaining lifetimes with clk.
func NewStore(c Cache, clk clock.Clock) *Store {
	return &Store{cache: c, clock: clk}
}

// LoadGrant returns the grant stored under code, or ErrGrantNotFound.
func (s *Store) LoadGrant(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, ErrGrantNotFound
	}

	fields, err := s.cache.GetAllFields(ctx, code)
	if err != nil {
		return nil, err
	}
	return grantFromFields(code, fields)
}

// TakeGrant removes the grant stored under code and returns it. Of several
// concurrent takes of one code only the first finds it; the rest get
// ErrGrantNotFound.
func (s *Store) TakeGrant(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, ErrGrantNotFound
	}

	fields, err := s.cache.TakeAllFields(ctx, code)
	if err != nil {
		return nil, err
	}
	return grantFromFields(code, fields)
}

func grantFromFields(code string, fields map[string]string) (*Grant, error) {
	if len(fields) == 0 {
		return nil, ErrGrantNotFound
	}

	expires, err := parseExpires(fields[fieldExpires])
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("grant %s: %w", code, err))
	}
	userID, err := parseUserID(fields[fieldUserID])
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("grant %s: %w", code, err))
	}

	return &Grant{
		ClientID:    fields[fieldClientID],
		UserID:      userID,
		Code:        code,
		RedirectURI: fields[fieldRedirectURI],
		Expires:     expires,
		Scopes:      strings.Fields(fields[fieldScopes]),
	}, nil
}

// SaveGrant writes g under its code and lets it expire at g.Expires, which is
// truncated to whole seconds first.
func (s *Store) SaveGrant(ctx context.Context, g *Grant) error {
	if g.Code == "" {
		return logger.LogErr(errors.New("grant code is required"))
	}

	g.Expires = g.Expires.UTC().Truncate(time.Second)

	err := s.cache.SetFields(ctx, g.Code, map[string]string{
		fieldClientID:    g.ClientID,
		fieldUserID:      strconv.FormatInt(g.UserID, 10),
		fieldRedirectURI: g.RedirectURI,
		fieldExpires:     g.Expires.Format(expiresLayout),
		fieldScopes:      strings.Join(g.Scopes, " "),
	})
	if err != nil {
		return err
	}

	return s.cache.SetTTL(ctx, g.Code, remaining(g.Expires, s.clock.Now()))
}

// DeleteGrant removes g from the cache and returns it.
func (s *Store) DeleteGrant(ctx context.Context, g *Grant) (*Grant, error) {
	if err := s.cache.Delete(ctx, g.Code); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadToken returns the token selected by key, or ErrTokenNotFound.
func (s *Store) LoadToken(ctx context.Context, key TokenKey) (*BearerToken, error) {
	var k string
	switch {
	case key.AccessToken != "" && key.RefreshToken == "":
		k = key.AccessToken
	case key.RefreshToken != "" && key.AccessToken == "":
		k = key.RefreshToken
	default:
		return nil, ErrInvalidTokenKey
	}

	fields, err := s.cache.GetAllFields(ctx, k)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}

	t, err := tokenFromFields(fields)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("bearer token record: %w", err))
	}
	return t, nil
}

// SaveToken writes t under both of its token strings with the same lifetime.
func (s *Store) SaveToken(ctx context.Context, t *BearerToken) error {
	if err := validateToken(t); err != nil {
		return err
	}

	t.Expires = t.Expires.UTC().Truncate(time.Second)
	fields := t.fields()
	ttl := remaining(t.Expires, s.clock.Now())

	for _, k := range []string{t.AccessToken, t.RefreshToken} {
		if err := s.cache.SetFields(ctx, k, fields); err != nil {
			return err
		}
	}
	for _, k := range []string{t.AccessToken, t.RefreshToken} {
		if err := s.cache.SetTTL(ctx, k, ttl); err != nil {
			return err
		}
	}
	return nil
}

// DeleteToken removes both keys of t and returns it.
func (s *Store) DeleteToken(ctx context.Context, t *BearerToken) (*BearerToken, error) {
	if err := s.cache.Delete(ctx, t.AccessToken, t.RefreshToken); err != nil {
		return nil, err
	}
	return t, nil
}

// ReplaceCurrentToken saves t as its owner's only live token. The token the
// owner held before, if any, is deleted in the same atomic step.
func (s *Store) ReplaceCurrentToken(ctx context.Context, t *BearerToken) error {
	if err := validateToken(t); err != nil {
		return err
	}

	t.Expires = t.Expires.UTC().Truncate(time.Second)

	return s.cache.ReplaceLinked(ctx, cache.Replacement{
		Pointer: currentTokenKey(t.UserID),
		Link:    fieldRefreshToken,
		Keys:    []string{t.AccessToken, t.RefreshToken},
		Fields:  t.fields(),
		TTL:     remaining(t.Expires, s.clock.Now()),
	})
}

func (t *BearerToken) fields() map[string]string {
	return map[string]string{
		fieldAccessToken:  t.AccessToken,
		fieldRefreshToken: t.RefreshToken,
		fieldClientID:     t.ClientID,
		fieldUserID:       strconv.FormatInt(t.UserID, 10),
		fieldExpires:      t.Expires.Format(expiresLayout),
		fieldScopes:       strings.Join(t.Scopes, " "),
	}
}

func tokenFromFields(fields map[string]string) (*BearerToken, error) {
	expires, err := parseExpires(fields[fieldExpires])
	if err != nil {
		return nil, err
	}
	userID, err := parseUserID(fields[fieldUserID])
	if err != nil {
		return nil, err
	}

	return &BearerToken{
		AccessToken:  fields[fieldAccessToken],
		RefreshToken: fields[fieldRefreshToken],
		ClientID:     fields[fieldClientID],
		UserID:       userID,
		Scopes:       strings.Fields(fields[fieldScopes]),
		Expires:      expires,
	}, nil
}

func validateToken(t *BearerToken) error {
	if t.AccessToken == "" || t.RefreshToken == "" {
		return logger.LogErr(errors.New("bearer token needs both access and refresh strings"))
	}
	if t.AccessToken == t.RefreshToken {
		return logger.LogErr(errors.New("access and refresh strings must differ"))
	}
	return nil
}

func parseExpires(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(expiresLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expires %q: %w", raw, err)
	}
	return t, nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user_id %q: %w", raw, err)
	}
	return id, nil
}

func currentTokenKey(userID int64) string {
	return currentTokenPrefix + strconv.FormatInt(userID, 10)
}

// remaining is the time from now until expires rounded up to the millisecond
// the cache expires keys at, or zero once expires has passed.
func remaining(expires, now time.Time) time.Duration {
	left := expires.Sub(now)
	if left <= 0 {
		return 0
	}
	return (left + time.Millisecond - 1) / time.Millisecond * time.Millisecond
}
