package messaging

import "time"

// Communication is an immutable record of one send/receive event.
//
// Invariants:
// - Records are append-only; content is never mutated after insert.
// - Status is the only updatable field, and only via provider delivery
//   webhooks (sent -> delivered/failed).
// - Superseded marks a record produced by an execution that completed after
//   its cancellation; such records are excluded from sequence advancement.
type Communication struct {
	ID     string `json:"id" db:"id"`
	LeadID string `json:"lead_id" db:"lead_id"`

	Channel   Channel   `json:"channel" db:"channel"`
	Direction Direction `json:"direction" db:"direction"`

	Content string `json:"content" db:"content"`

	// ExternalID is the provider's message identifier; empty for inbound
	// events from channels without one (chat).
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	Status DeliveryStatus `json:"status" db:"status"`

	Superseded bool `json:"superseded,omitempty" db:"superseded"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
