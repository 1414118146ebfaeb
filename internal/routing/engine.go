package routing

import (
	"context"
	"encoding/json"
	"errors"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
)

// Engine picks the initial contact channel for a new lead.
//
// Priority: walk the campaign's channel preferences in order (primary, then
// fallbacks) and pick the first channel the lead can actually be reached on.
//
// Rules:
// - email needs a non-empty email address, sms a non-empty phone number,
//   chat is always usable.
// - Empty or malformed channel preferences fall back to chat; a malformed
//   campaign never makes Decide return an error.
// - Nothing usable at all means reject with "no viable channel".
//
// Return the routing decision only. The audit side effect is a separate,
// best-effort append so a failing audit sink cannot block intake.
type Engine struct {
	Audit AuditLogger
}

// AuditLogger records the immutable per-lead decision record.
type AuditLogger interface {
	LogRoutingDecision(ctx context.Context, leadID, campaignID, message, metadata string) error
}

func NewEngine(auditLog AuditLogger) *Engine {
	return &Engine{Audit: auditLog}
}

var ErrInvalidLead = errors.New("routing: lead id required")

func (e *Engine) Decide(ctx context.Context, l lead.Lead, c campaign.Campaign) (Decision, error) {
	if l.ID == "" {
		return Decision{}, ErrInvalidLead
	}

	d := e.decide(l, c)
	e.logDecision(ctx, d)
	return d, nil
}

func (e *Engine) decide(l lead.Lead, c campaign.Campaign) Decision {
	prefs := c.ChannelPreferences
	sawValid := false
	for _, ch := range prefs {
		if !ch.Valid() {
			continue
		}
		sawValid = true
		if ChannelUsable(ch, l) {
			return Decision{
				LeadID:     l.ID,
				CampaignID: c.ID,
				Action:     ActionAssignChannel,
				Channel:    ch,
				Reasoning:  "first usable channel in campaign preference order",
			}
		}
	}

	if !sawValid {
		// Empty or wholly malformed preference list: chat requires no
		// contact data, so it is always a safe default.
		return Decision{
			LeadID:     l.ID,
			CampaignID: c.ID,
			Action:     ActionAssignChannel,
			Channel:    messaging.ChannelChat,
			Reasoning:  "no valid channel preferences; defaulting to chat",
		}
	}

	return Decision{
		LeadID:     l.ID,
		CampaignID: c.ID,
		Action:     ActionReject,
		Reasoning:  "no viable channel",
	}
}

// ChannelUsable reports whether the lead has a usable contact method for ch.
func ChannelUsable(ch messaging.Channel, l lead.Lead) bool {
	switch ch {
	case messaging.ChannelEmail:
		return l.Email != ""
	case messaging.ChannelSMS:
		return l.Phone != ""
	case messaging.ChannelChat:
		return true
	default:
		return false
	}
}

func (e *Engine) logDecision(ctx context.Context, d Decision) {
	if e.Audit == nil {
		return
	}
	meta, _ := json.Marshal(d)
	// Best-effort; intake must not fail on audit errors.
	_ = e.Audit.LogRoutingDecision(ctx, d.LeadID, d.CampaignID, string(d.Action), string(meta))
}
