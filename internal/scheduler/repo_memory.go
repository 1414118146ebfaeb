package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("scheduler: execution not found")
	ErrInvalidArgument = errors.New("scheduler: invalid argument")
)

// Repository is the persistence contract for executions.
//
// All state changes go through compare-and-swap style methods so concurrent
// workers racing on the same execution cannot double-fire it.
type Repository interface {
	Create(ctx context.Context, e Execution) error
	Get(ctx context.Context, id string) (Execution, error)

	// FindLive returns the live execution occupying the idempotency tuple.
	FindLive(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (Execution, bool, error)

	// Transition swaps status from -> to; reports whether the swap happened.
	Transition(ctx context.Context, id string, from, to Status) (bool, error)

	// Reschedule moves the execution back to scheduled at a new due time,
	// only if the current status is from.
	Reschedule(ctx context.Context, id string, from Status, at time.Time) (bool, error)

	// RecordAttempt updates the retry bookkeeping.
	RecordAttempt(ctx context.Context, id string, attempts int, lastError string) error

	MarkSuperseded(ctx context.Context, id string) error

	ListScheduledByLead(ctx context.Context, leadID string) ([]Execution, error)

	// ListByWindow returns executions created in [from, to), optionally
	// filtered by campaign. Any status.
	ListByWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Execution, error)
}

// MemoryRepo is the in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	execs map[string]Execution
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{execs: make(map[string]Execution), clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, e Execution) error {
	if e.ID == "" || e.CampaignID == "" || e.LeadID == "" || e.TemplateID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.execs[e.ID]; ok {
		return ErrInvalidArgument
	}
	now := r.clock().UTC()
	if e.Status == "" {
		e.Status = StatusScheduled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	r.execs[e.ID] = e
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) FindLive(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (Execution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.execs {
		if e.Status.Live() &&
			e.CampaignID == campaignID &&
			e.LeadID == leadID &&
			e.TemplateID == templateID &&
			e.ScheduledFor.Equal(scheduledFor) {
			return e, true, nil
		}
	}
	return Execution{}, false, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = r.clock().UTC()
	r.execs[id] = e
	return true, nil
}

func (r *MemoryRepo) Reschedule(ctx context.Context, id string, from Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = StatusScheduled
	e.ScheduledFor = at
	e.UpdatedAt = r.clock().UTC()
	r.execs[id] = e
	return true, nil
}

func (r *MemoryRepo) RecordAttempt(ctx context.Context, id string, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return ErrNotFound
	}
	e.Attempts = attempts
	e.LastError = lastError
	e.UpdatedAt = r.clock().UTC()
	r.execs[id] = e
	return nil
}

func (r *MemoryRepo) MarkSuperseded(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return ErrNotFound
	}
	e.Superseded = true
	e.UpdatedAt = r.clock().UTC()
	r.execs[id] = e
	return nil
}

func (r *MemoryRepo) ListScheduledByLead(ctx context.Context, leadID string) ([]Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Execution
	for _, e := range r.execs {
		if e.LeadID == leadID && e.Status == StatusScheduled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListByWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Execution
	for _, e := range r.execs {
		if campaignID != "" && e.CampaignID != campaignID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
