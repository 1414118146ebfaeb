package routing

import "leadflow-platform/internal/messaging"

// Decision is the output of the decision engine for a new lead.
//
// It must contain *only* information needed by the coordination and
// scheduling layers to act on the lead.
//
// No provider identity and no provider-specific fields belong here.
type Decision struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	Action  Action            `json:"action"`
	Channel messaging.Channel `json:"channel,omitempty"`

	// Reasoning is intended for the routing audit trail and internal logs.
	Reasoning string `json:"reasoning,omitempty"`
}

type Action string

const (
	ActionAssignChannel Action = "assign_channel"
	ActionReject        Action = "reject"
)
