package scheduler

import "time"

// Execution is one scheduled touch of a campaign sequence.
//
// State machine: scheduled -> executing -> {completed | failed | cancelled}.
// Terminal states are final; a cancelled or failed execution never re-enters
// scheduled. A coordination denial moves executing back to scheduled with a
// later due time; that is a reschedule, not a state-machine violation.
//
// Idempotency: while status is scheduled or executing, the tuple
// (campaign_id, lead_id, template_id, scheduled_for) identifies one live
// execution; scheduling the same tuple again returns the existing id.
type Execution struct {
	ID string `json:"id" db:"id"`

	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	TemplateID string `json:"template_id" db:"template_id"`

	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	Status Status `json:"status" db:"status"`

	// Attempts counts provider send attempts (coordination reschedules do
	// not count against the retry budget).
	Attempts  int    `json:"attempts" db:"attempts"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// Superseded marks an execution whose send completed after the execution
	// had already been cancelled (handover race window). Superseded
	// executions never advance the sequence.
	Superseded bool `json:"superseded,omitempty" db:"superseded"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Live reports whether the execution still occupies its idempotency slot.
func (s Status) Live() bool {
	return s == StatusScheduled || s == StatusExecuting
}
