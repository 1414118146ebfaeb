package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("messaging: communication not found")

// Repository is the persistence contract for the communication audit trail.
//
// Append-only: no delete, and the only update is the delivery
// status transition driven by provider webhooks.
type Repository interface {
	Append(ctx context.Context, c Communication) error
	UpdateStatusByExternalID(ctx context.Context, externalID string, status DeliveryStatus) error
	ListByLead(ctx context.Context, leadID string) ([]Communication, error)

	// ListWindow returns communications created in [from, to). Reporting
	// reads the trail through this.
	ListWindow(ctx context.Context, from, to time.Time) ([]Communication, error)
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Communication
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, c Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, c)
	return nil
}

func (r *MemoryRepo) UpdateStatusByExternalID(ctx context.Context, externalID string, status DeliveryStatus) error {
	if externalID == "" {
		return ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ExternalID == externalID {
			r.records[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) ListByLead(ctx context.Context, leadID string) ([]Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Communication
	for _, c := range r.records {
		if c.LeadID == leadID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListWindow(ctx context.Context, from, to time.Time) ([]Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Communication
	for _, c := range r.records {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
