package campaign

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("campaign: not found")

// Repository is the read contract used by the engine. Campaign authoring
// lives in the CRUD layer outside the core.
type Repository interface {
	Get(ctx context.Context, id string) (Campaign, error)
}

// MemoryRepo is an in-memory campaign store for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: make(map[string]Campaign)}
}

func (r *MemoryRepo) Put(ctx context.Context, c Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}
