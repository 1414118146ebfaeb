package lead

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("lead: not found")
	ErrInvalidTransition = errors.New("lead: invalid status transition")
	ErrInvalidArgument   = errors.New("lead: invalid argument")
)

// Repository is the persistence contract for leads.
type Repository interface {
	Create(ctx context.Context, l Lead) error
	Get(ctx context.Context, id string) (Lead, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	SetScore(ctx context.Context, id string, score int) error
	FlagForReview(ctx context.Context, id string) error
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	leads map[string]Lead
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{leads: make(map[string]Lead), clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, l Lead) error {
	if l.ID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[l.ID]; ok {
		return ErrInvalidArgument
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	now := r.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	r.leads[l.ID] = l
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

// UpdateStatus is a compare-and-swap: it fails if the current status is not
// `from` or the move is illegal.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != from || !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	l.Status = to
	l.UpdatedAt = r.clock().UTC()
	r.leads[id] = l
	return nil
}

// SetScore keeps the maximum of the stored and proposed score, clamped to 0-100.
func (r *MemoryRepo) SetScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	if score > l.QualificationScore {
		l.QualificationScore = score
		l.UpdatedAt = r.clock().UTC()
		r.leads[id] = l
	}
	return nil
}

func (r *MemoryRepo) FlagForReview(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	l.FlaggedForReview = true
	l.UpdatedAt = r.clock().UTC()
	r.leads[id] = l
	return nil
}
