package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/BookBrainz/bookbrainz-ws/logger"
)

// MySQL reads clients and users from the editor database.
type MySQL struct {
	db *sql.DB
}

// NewMySQL constructs a MySQL registry backed by the given sql.DB.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) FindClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	var (
		rawID       string
		name        sql.NullString
		secret      sql.NullString
		redirectURI sql.NullString
	)

	err := m.db.QueryRowContext(ctx, `
		SELECT client_id, name, client_secret, redirect_uri
		FROM oauth_client
		WHERE client_id = ?
	`, id.String()).Scan(&rawID, &name, &secret, &redirectURI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, logger.LogErr(fmt.Errorf("%w: query client %s: %w", ErrUnavailable, id, err))
	}

	clientID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("stored client id %q: %w", rawID, err))
	}

	return &Client{
		ID:          clientID,
		Name:        name.String,
		Secret:      secret.String,
		RedirectURI: redirectURI.String,
	}, nil
}

func (m *MySQL) FindUserByName(ctx context.Context, name string) (*User, error) {
	return m.findUser(ctx, `
		SELECT user_id, name, email, password
		FROM user
		WHERE name = ?
	`, name)
}

func (m *MySQL) FindUserByID(ctx context.Context, id int64) (*User, error) {
	return m.findUser(ctx, `
		SELECT user_id, name, email, password
		FROM user
		WHERE user_id = ?
	`, id)
}

func (m *MySQL) findUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var (
		u        User
		email    sql.NullString
		password sql.NullString
	)

	err := m.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &email, &password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, logger.LogErr(fmt.Errorf("%w: query user %v: %w", ErrUnavailable, arg, err))
	}

	u.Email = email.String
	u.Password = password.String
	return &u, nil
}
