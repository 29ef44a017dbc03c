package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BookBrainz/bookbrainz-ws/clock"
	"github.com/BookBrainz/bookbrainz-ws/registry"
)

var (
	confidentialID = uuid.MustParse("7f1b0a36-5d1e-4a53-9b43-1c7e1a0b6f10")
	publicID       = uuid.MustParse("0e6b3f1a-2c4d-4e8f-a1b2-c3d4e5f60718")
)

type testEnv struct {
	store     *Store
	validator *Validator
	registry  *registry.Memory
	clock     *clock.Manual
	redis     *miniredis.Miniredis
	bob       registry.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, srv, clk := newTestStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw123"), bcrypt.MinCost)
	require.NoError(t, err)

	reg := registry.NewMemory()
	reg.AddClient(registry.Client{ID: confidentialID, Name: "C1", Secret: "c1-secret", RedirectURI: "https://bookbrainz.org/cb"})
	reg.AddClient(registry.Client{ID: publicID, Name: "cli"})
	bob := registry.User{ID: 3, Name: "bob", Email: "bob@bobville.org", Password: string(hash)}
	reg.AddUser(bob)
	reg.AddUser(registry.User{ID: 4, Name: "nopass"})

	return &testEnv{
		store:     s,
		validator: NewValidator(s, reg, clk),
		registry:  reg,
		clock:     clk,
		redis:     srv,
		bob:       bob,
	}
}

func TestGetClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.validator.GetClient(ctx, confidentialID.String())
	require.NoError(t, err)
	assert.Equal(t, "C1", c.Name)

	c, err = env.validator.GetClient(ctx, "7F1B0A365D1E4A539B431C7E1A0B6F10")
	require.NoError(t, err, "hex without dashes is accepted")
	assert.Equal(t, confidentialID, c.ID)

	_, err = env.validator.GetClient(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
	assert.NotErrorIs(t, err, registry.ErrClientNotFound)

	_, err = env.validator.GetClient(ctx, uuid.NewString())
	assert.ErrorIs(t, err, registry.ErrClientNotFound)
	assert.NotErrorIs(t, err, ErrMalformedIdentifier)
}

func TestAuthenticateClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.validator.AuthenticateClient(ctx, confidentialID.String(), "c1-secret")
	assert.NoError(t, err)

	_, err = env.validator.AuthenticateClient(ctx, confidentialID.String(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.validator.AuthenticateClient(ctx, confidentialID.String(), "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	c, err := env.validator.AuthenticateClient(ctx, publicID.String(), "")
	require.NoError(t, err)
	assert.True(t, c.Public())
}

func TestAuthenticateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.validator.AuthenticateUser(ctx, "bob", "pw123")
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.ID)

	for _, tt := range []struct{ name, user, password string }{
		{"wrong password", "bob", "pw1234"},
		{"empty password", "bob", ""},
		{"no password set", "nopass", ""},
		{"no password set, any input", "nopass", "anything"},
		{"unknown user", "alice", "pw123"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.validator.AuthenticateUser(ctx, tt.user, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}

	env.registry.AddUser(registry.User{ID: 5, Name: "broken", Password: "plaintext"})
	_, err = env.validator.AuthenticateUser(ctx, "broken", "plaintext")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "a stored value that is not a bcrypt hash never matches")
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct")
	require.NoError(t, err)
	assert.NotEqual(t, "correct", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct")))
}

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client, err := env.validator.GetClient(ctx, confidentialID.String())
	require.NoError(t, err)

	tok, err := env.validator.IssueToken(ctx, TokenFields{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresIn:    3600,
		Scope:        "read write",
	}, &TokenRequest{Client: client, User: &env.bob})
	require.NoError(t, err)

	assert.Equal(t, confidentialID.String(), tok.ClientID)
	assert.Equal(t, env.bob.ID, tok.UserID)
	assert.Equal(t, []string{"read", "write"}, tok.Scopes)
	assert.Equal(t, testStart.Add(time.Hour).Truncate(time.Second), tok.Expires)

	got, err := env.validator.GetToken(ctx, TokenKey{AccessToken: "a1"})
	require.NoError(t, err)
	assert.Equal(t, tok, got)

	user, err := got.User(ctx, env.validator)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Name)

	_, err = env.validator.IssueToken(ctx, TokenFields{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600},
		&TokenRequest{Client: client, User: &env.bob})
	require.NoError(t, err)

	_, err = env.validator.GetToken(ctx, TokenKey{AccessToken: "a1"})
	assert.ErrorIs(t, err, ErrTokenNotFound, "second issue revokes the first token")
	_, err = env.validator.GetToken(ctx, TokenKey{RefreshToken: "r1"})
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestIssueTokenRejectsIncompleteRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fields := TokenFields{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 60}

	_, err := env.validator.IssueToken(ctx, fields, nil)
	assert.Error(t, err)
	_, err = env.validator.IssueToken(ctx, fields, &TokenRequest{User: &env.bob})
	assert.Error(t, err)

	fields.ExpiresIn = 0
	_, err = env.validator.IssueToken(ctx, fields, &TokenRequest{Client: &registry.Client{ID: publicID}, User: &env.bob})
	assert.Error(t, err)
}

func TestIssueTokenConcurrentSingleSurvivor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client := &registry.Client{ID: publicID}

	const n = 20
	issued := make([]*BearerToken, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := env.validator.IssueToken(ctx, TokenFields{
				AccessToken:  uuid.NewString(),
				RefreshToken: uuid.NewString(),
				ExpiresIn:    3600,
			}, &TokenRequest{Client: client, User: &env.bob})
			assert.NoError(t, err)
			issued[i] = tok
		}(i)
	}
	wg.Wait()

	live := 0
	for _, tok := range issued {
		require.NotNil(t, tok)
		_, errA := env.store.LoadToken(ctx, TokenKey{AccessToken: tok.AccessToken})
		_, errR := env.store.LoadToken(ctx, TokenKey{RefreshToken: tok.RefreshToken})
		assert.Equal(t, errA == nil, errR == nil, "both keys of a token live or die together")
		if errA == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)

	pointer, err := env.redis.Get("current:3")
	require.NoError(t, err)
	_, err = env.store.LoadToken(ctx, TokenKey{AccessToken: pointer})
	assert.NoError(t, err, "the pointer names the surviving token")
}

func TestGrantValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g := &Grant{
		ClientID:    confidentialID.String(),
		UserID:      env.bob.ID,
		Code:        "code-1",
		RedirectURI: "https://bookbrainz.org/cb",
		Expires:     env.clock.Now().Add(5 * time.Minute),
		Scopes:      []string{"read"},
	}
	require.NoError(t, env.validator.SaveGrant(ctx, g))

	_, err := env.validator.GetGrant(ctx, publicID.String(), "code-1")
	assert.ErrorIs(t, err, ErrGrantNotFound, "grant is bound to its client")

	got, err := env.validator.GetGrant(ctx, confidentialID.String(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, g, got)

	require.NoError(t, env.validator.InvalidateGrant(ctx, got))
	_, err = env.validator.GetGrant(ctx, confidentialID.String(), "code-1")
	assert.ErrorIs(t, err, ErrGrantNotFound)
	assert.ErrorIs(t, env.validator.InvalidateGrant(ctx, got), ErrGrantNotFound, "a code is consumed once")
}

func TestInvalidateGrantConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g := &Grant{
		ClientID: confidentialID.String(),
		UserID:   env.bob.ID,
		Code:     "code-race",
		Expires:  env.clock.Now().Add(5 * time.Minute),
		Scopes:   []string{"read"},
	}
	require.NoError(t, env.validator.SaveGrant(ctx, g))

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.validator.InvalidateGrant(ctx, g)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrGrantNotFound)
	}
	assert.Equal(t, 1, won)
}
