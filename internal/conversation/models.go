package conversation

import (
	"time"

	"leadflow-platform/internal/messaging"
)

// Conversation holds per-lead, per-channel dialogue state.
//
// Invariants:
// - Messages are append-only and ordered by append time.
// - Status is monotonic once terminal (handed_over, completed).
// - QualificationScore never decreases; the store keeps the max.
type Conversation struct {
	ID      string            `json:"id" db:"id"`
	LeadID  string            `json:"lead_id" db:"lead_id"`
	Channel messaging.Channel `json:"channel" db:"channel"`

	Status Status `json:"status" db:"status"`

	Messages []Message `json:"messages"`

	QualificationScore int `json:"qualification_score" db:"qualification_score"`

	// GoalProgress is the set of campaign goal identifiers satisfied so far.
	GoalProgress map[string]bool `json:"goal_progress,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
	StatusHandedOver Status = "handed_over"
)

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusHandedOver
}

type Role string

const (
	RoleAgent Role = "agent"
	RoleLead  Role = "lead"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CrossChannelContext is an aggregated snapshot of all sibling conversations
// for one lead, used by the dossier and by cross-channel evaluation.
type CrossChannelContext struct {
	LeadID string `json:"lead_id"`

	// Conversations are keyed by channel.
	Conversations map[messaging.Channel]Conversation `json:"conversations"`

	TotalMessages int `json:"total_messages"`

	// HighestScore is the max qualification score across channels.
	HighestScore int `json:"highest_score"`

	// Goals is the union of goal progress across channels.
	Goals map[string]bool `json:"goals,omitempty"`

	// LastOutboundAt is the latest agent message time across channels;
	// zero when the lead has never been touched.
	LastOutboundAt time.Time `json:"last_outbound_at,omitempty"`
}
