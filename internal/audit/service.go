package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to leads.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogRoutingDecision records the immutable channel-assignment decision for a lead.
func (s *Service) LogRoutingDecision(ctx context.Context, leadID, campaignID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeRoutingDecision,
		LeadID:     leadID,
		CampaignID: campaignID,
		Message:    message,
		Metadata:   metadata,
	})
}

// LogHandover records a fired handover.
func (s *Service) LogHandover(ctx context.Context, leadID, campaignID, conversationID, message string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeHandover,
		LeadID:         leadID,
		CampaignID:     campaignID,
		ConversationID: conversationID,
		Message:        message,
	})
}

// LogHandoverAnomaly records a rejected duplicate handover attempt.
func (s *Service) LogHandoverAnomaly(ctx context.Context, leadID, conversationID, message string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeHandoverAnomaly,
		LeadID:         leadID,
		ConversationID: conversationID,
		Message:        message,
	})
}

// LogQueueAdmin records an operator action on the job queue.
func (s *Service) LogQueueAdmin(ctx context.Context, actorUserID, actorRole, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeQueueAdmin,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     message,
		Metadata:    metadata,
	})
}
