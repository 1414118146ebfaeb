package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; do not block engine flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	LeadID         string `json:"lead_id,omitempty" db:"lead_id"`
	CampaignID     string `json:"campaign_id,omitempty" db:"campaign_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`
	ExecutionID    string `json:"execution_id,omitempty" db:"execution_id"`

	// ActorUserID is set for operator-driven events (queue admin actions).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeRoutingDecision records the channel assignment (or rejection)
	// made for a new lead. Distinct from the communication trail.
	EventTypeRoutingDecision EventType = "routing_decision"

	// EventTypeHandover records a fired handover.
	EventTypeHandover EventType = "handover"

	// EventTypeHandoverAnomaly records a rejected second handover attempt.
	// This is a serious invariant violation and must never be silent.
	EventTypeHandoverAnomaly EventType = "handover_anomaly"

	// EventTypeQueueAdmin records operator pause/resume/retry actions.
	EventTypeQueueAdmin EventType = "queue_admin"
)
