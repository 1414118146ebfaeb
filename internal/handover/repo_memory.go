package handover

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicate signals an attempted second handover for one
	// conversation. Callers must treat it as an anomaly, not retry it.
	ErrDuplicate = errors.New("handover: conversation already handed over")

	ErrNotFound = errors.New("handover: record not found")
)

// Repository persists handover records.
//
// Create must be atomic with respect to the per-conversation uniqueness
// check; in Postgres that is a UNIQUE constraint on conversation_id.
type Repository interface {
	Create(ctx context.Context, r Record) error
	GetByConversation(ctx context.Context, conversationID string) (Record, error)

	// ListWindow returns records created in [from, to), optionally filtered
	// by campaign.
	ListWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Record, error)
}

// MemoryRepo is the in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	byConv map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byConv: make(map[string]Record)}
}

func (r *MemoryRepo) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConv[rec.ConversationID]; ok {
		return ErrDuplicate
	}
	r.byConv[rec.ConversationID] = rec
	return nil
}

func (r *MemoryRepo) GetByConversation(ctx context.Context, conversationID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byConv[conversationID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.byConv {
		if campaignID != "" && rec.CampaignID != campaignID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count reports stored records; convenient in tests.
func (r *MemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConv)
}
