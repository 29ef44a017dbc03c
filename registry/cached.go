package registry

import (
	"context"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/google/uuid"
)

const maxCachedClients = 1000

// Cached keeps client lookups in memory for a while. Users always go to the
// wrapped registry so a changed password takes effect immediately.
type Cached struct {
	Registry
	clients cache.Cache[uuid.UUID, Client]
}

// NewCached wraps r. A non-positive ttl disables caching and returns r unchanged.
func NewCached(r Registry, ttl time.Duration) Registry {
	if ttl <= 0 {
		return r
	}
	return &Cached{
		Registry: r,
		clients:  cache.NewCache[uuid.UUID, Client]().WithTTL(ttl).WithMaxKeys(maxCachedClients).WithLRU(),
	}
}

func (c *Cached) FindClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	if cl, ok := c.clients.Get(id); ok {
		return &cl, nil
	}

	cl, err := c.Registry.FindClientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.clients.Add(id, *cl)
	return cl, nil
}
