package lead

import "time"

// Lead is an inbound sales lead.
//
// Invariants:
// - Leads are never deleted, only status-transitioned.
// - Status and qualification score are mutated only by the decision engine
//   and the handover evaluator.
// - QualificationScore is 0-100 and never decreases.
type Lead struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Contact channels; either may be absent.
	Email string `json:"email,omitempty" db:"email"`
	Phone string `json:"phone,omitempty" db:"phone"`

	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Status Status `json:"status" db:"status"`

	QualificationScore int `json:"qualification_score" db:"qualification_score"`

	// FlaggedForReview is set when a non-retryable send failure (invalid
	// address/number) needs a human to fix the contact data.
	FlaggedForReview bool `json:"flagged_for_review,omitempty" db:"flagged_for_review"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusConverted Status = "converted"
	StatusDead      Status = "dead"
)

// CanTransition reports whether from -> to is a legal status move.
// dead and converted are terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusNew:
		return to == StatusContacted || to == StatusQualified || to == StatusDead
	case StatusContacted:
		return to == StatusQualified || to == StatusDead
	case StatusQualified:
		return to == StatusConverted || to == StatusDead
	default:
		return false
	}
}
