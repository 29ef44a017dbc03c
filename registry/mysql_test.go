package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRegistry(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQL(db), mock
}

func TestMySQLFindClientByID(t *testing.T) {
	r, mock := newMockRegistry(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT client_id, name, client_secret, redirect_uri FROM oauth_client").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "name", "client_secret", "redirect_uri"}).
			AddRow(id.String(), "editor", nil, "https://bookbrainz.org/cb"))

	c, err := r.FindClientByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, "editor", c.Name)
	assert.True(t, c.Public())
	assert.Equal(t, "https://bookbrainz.org/cb", c.RedirectURI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLFindClientNotFound(t *testing.T) {
	r, mock := newMockRegistry(t)
	id := uuid.New()

	mock.ExpectQuery("FROM oauth_client").WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "name", "client_secret", "redirect_uri"}))

	_, err := r.FindClientByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestMySQLFindUser(t *testing.T) {
	r, mock := newMockRegistry(t)
	cols := []string{"user_id", "name", "email", "password"}

	mock.ExpectQuery("FROM user WHERE name = ?").WithArgs("Bob").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), "Bob", "bob@bobville.org", "$2a$10$hash"))
	mock.ExpectQuery("FROM user WHERE user_id = ?").WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(4), "Alice", nil, nil))
	mock.ExpectQuery("FROM user WHERE name = ?").WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(cols))

	u, err := r.FindUserByName(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: 3, Name: "Bob", Email: "bob@bobville.org", Password: "$2a$10$hash"}, u)

	u, err = r.FindUserByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
	assert.Empty(t, u.Password, "null password means no password set")

	_, err = r.FindUserByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLUnavailable(t *testing.T) {
	r, mock := newMockRegistry(t)
	mock.ExpectQuery("FROM user").WillReturnError(errors.New("connection refused"))

	_, err := r.FindUserByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}
