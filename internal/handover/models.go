package handover

import (
	"time"

	"leadflow-platform/internal/campaign"
)

// Record is produced at most once per conversation when a handover fires.
//
// Invariant: no conversation may have more than one Record. The repository
// enforces this at the write boundary; a second create attempt is an anomaly,
// rejected and logged, never overwritten.
type Record struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	LeadID         string `json:"lead_id" db:"lead_id"`
	CampaignID     string `json:"campaign_id" db:"campaign_id"`

	// Recipient is the highest-priority available human recipient.
	Recipient campaign.Recipient `json:"recipient"`

	// DossierSummary is the rendered dossier text attached at fire time.
	DossierSummary string `json:"dossier_summary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Evaluation is the computed state a conversation is judged on.
type Evaluation struct {
	Score              int      `json:"score"`
	ConversationLength int      `json:"conversation_length"`
	ElapsedMinutes     int      `json:"elapsed_minutes"`
	MatchedKeyword     string   `json:"matched_keyword,omitempty"`
	GoalsSatisfied     []string `json:"goals_satisfied,omitempty"`

	ScoreMet   bool `json:"score_met"`
	LengthMet  bool `json:"length_met"`
	TimeMet    bool `json:"time_met"`
	KeywordMet bool `json:"keyword_met"`
	GoalsMet   bool `json:"goals_met"`
}

// ShouldFire applies the conjunction from the handover criteria:
// score AND length AND (time OR keyword) AND all required goals.
func (e Evaluation) ShouldFire() bool {
	return e.ScoreMet && e.LengthMet && (e.TimeMet || e.KeywordMet) && e.GoalsMet
}
