package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process registry for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]Client
	users   map[int64]User
}

// NewMemory returns an empty Memory registry.
func NewMemory() *Memory {
	return &Memory{
		clients: make(map[uuid.UUID]Client),
		users:   make(map[int64]User),
	}
}

// AddClient stores a copy of c, replacing any client with the same id.
func (m *Memory) AddClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

// AddUser stores a copy of u, replacing any user with the same id.
func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) FindClientByID(_ context.Context, id uuid.UUID) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (m *Memory) FindUserByName(_ context.Context, name string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *Memory) FindUserByID(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
