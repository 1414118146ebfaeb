package campaign

import (
	"errors"
	"fmt"
	"time"

	"leadflow-platform/internal/messaging"
)

// Campaign configures a multi-step outreach sequence.
//
// Campaigns are immutable once an execution references them, except for
// explicit admin edits handled outside the engine.
type Campaign struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// TouchSequence is the ordered list of scheduled outbound contacts.
	TouchSequence []TouchStep `json:"touch_sequence"`

	Qualification QualificationCriteria `json:"qualification_criteria"`
	Handover      HandoverCriteria      `json:"handover_criteria"`

	// ChannelPreferences is the primary channel followed by ordered fallbacks.
	ChannelPreferences []messaging.Channel `json:"channel_preferences"`

	AssignedAgents []AgentAssignment `json:"assigned_agents"`

	// Strategy governs which assigned agent may act next on a shared lead.
	Strategy CoordinationStrategy `json:"coordination_strategy"`

	// MessageGapMinutes is the minimum gap between any two outbound touches
	// to the same lead. Clamped to [1, 1440] by Validate.
	MessageGapMinutes int `json:"message_gap_minutes"`

	// Legacy lead-distribution fields (Boberdoo-style posting).
	BuyerID        string `json:"buyer_id,omitempty"`
	LeadPriceCents int64  `json:"lead_price_cents,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TouchStep is one step of the touch sequence: a template sent after a delay
// relative to the previous send.
type TouchStep struct {
	TemplateID string `json:"template_id"`
	DelayDays  int    `json:"delay_days"`
	DelayHours int    `json:"delay_hours"`

	// Condition optionally gates the step (e.g. "no_reply"). Empty means
	// unconditional.
	Condition string `json:"condition,omitempty"`
}

// Delay is the step's offset from the previous send time.
func (s TouchStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

type QualificationCriteria struct {
	MinimumScore   int      `json:"minimum_score"`
	RequiredFields []string `json:"required_fields,omitempty"`
	RequiredGoals  []string `json:"required_goals,omitempty"`
}

type HandoverCriteria struct {
	QualificationScore int `json:"qualification_score"`
	ConversationLength int `json:"conversation_length"`

	// TimeThresholdMinutes is elapsed time since the first message.
	TimeThresholdMinutes int `json:"time_threshold_minutes"`

	// KeywordTriggers are matched case-insensitively as substrings.
	KeywordTriggers []string `json:"keyword_triggers,omitempty"`

	GoalCompletionRequired []string `json:"goal_completion_required,omitempty"`

	// HandoverRecipients are ordered by priority (lower = first).
	HandoverRecipients []Recipient `json:"handover_recipients,omitempty"`
}

type Recipient struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Priority int    `json:"priority"`
}

type CoordinationStrategy string

const (
	StrategyRoundRobin      CoordinationStrategy = "round_robin"
	StrategyPriorityBased   CoordinationStrategy = "priority_based"
	StrategyChannelSpecific CoordinationStrategy = "channel_specific"
)

type AgentRole string

const (
	AgentRolePrimary   AgentRole = "primary"
	AgentRoleSecondary AgentRole = "secondary"
	AgentRoleFallback  AgentRole = "fallback"
)

// AgentAssignment binds an automated agent to a campaign.
type AgentAssignment struct {
	AgentID  string              `json:"agent_id"`
	Channels []messaging.Channel `json:"channels"`
	Role     AgentRole           `json:"role"`
	Hours    WorkingHours        `json:"working_hours"`
}

// HandlesChannel reports whether the agent is capable on ch.
func (a AgentAssignment) HandlesChannel(ch messaging.Channel) bool {
	for _, c := range a.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// WorkingHours is a daily availability window in the agent's timezone.
// A zero value means always available.
type WorkingHours struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone,omitempty"`
}

func (w WorkingHours) alwaysOn() bool { return w.StartHour == 0 && w.EndHour == 0 }

func (w WorkingHours) location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		// Unknown zones degrade to UTC rather than blocking the agent.
		return time.UTC
	}
	return loc
}

// InWindow reports whether now falls inside the working window.
func (w WorkingHours) InWindow(now time.Time) bool {
	if w.alwaysOn() {
		return true
	}
	h := now.In(w.location()).Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Overnight window, e.g. 22-6.
	return h >= w.StartHour || h < w.EndHour
}

// NextOpen returns the next instant at or after now when the window opens.
func (w WorkingHours) NextOpen(now time.Time) time.Time {
	if w.InWindow(now) {
		return now
	}
	local := now.In(w.location())
	open := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, w.location())
	if !open.After(local) {
		open = open.Add(24 * time.Hour)
	}
	return open
}

const (
	minMessageGapMinutes = 1
	maxMessageGapMinutes = 1440
)

var (
	ErrInvalidCampaign = errors.New("campaign: invalid campaign")
)

// Validate checks structural requirements and normalizes the message gap.
// Malformed channel preferences are tolerated (the decision engine falls back
// to chat); everything else must be well-formed.
func (c *Campaign) Validate() error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("%w: id and name required", ErrInvalidCampaign)
	}
	for i, s := range c.TouchSequence {
		if s.TemplateID == "" {
			return fmt.Errorf("%w: touch step %d missing template", ErrInvalidCampaign, i)
		}
		if s.DelayDays < 0 || s.DelayHours < 0 {
			return fmt.Errorf("%w: touch step %d has negative delay", ErrInvalidCampaign, i)
		}
	}
	for i, a := range c.AssignedAgents {
		if a.AgentID == "" {
			return fmt.Errorf("%w: agent %d missing id", ErrInvalidCampaign, i)
		}
		if len(a.Channels) == 0 {
			return fmt.Errorf("%w: agent %q has no channel capability", ErrInvalidCampaign, a.AgentID)
		}
		for _, ch := range a.Channels {
			if !ch.Valid() {
				return fmt.Errorf("%w: agent %q has unknown channel %q", ErrInvalidCampaign, a.AgentID, ch)
			}
		}
	}
	switch c.Strategy {
	case StrategyRoundRobin, StrategyPriorityBased, StrategyChannelSpecific:
	case "":
		c.Strategy = StrategyRoundRobin
	default:
		return fmt.Errorf("%w: unknown coordination strategy %q", ErrInvalidCampaign, c.Strategy)
	}

	if c.MessageGapMinutes < minMessageGapMinutes {
		c.MessageGapMinutes = minMessageGapMinutes
	}
	if c.MessageGapMinutes > maxMessageGapMinutes {
		c.MessageGapMinutes = maxMessageGapMinutes
	}
	return nil
}

// MessageGap returns the normalized minimum inter-touch gap.
func (c Campaign) MessageGap() time.Duration {
	gap := c.MessageGapMinutes
	if gap < minMessageGapMinutes {
		gap = minMessageGapMinutes
	}
	if gap > maxMessageGapMinutes {
		gap = maxMessageGapMinutes
	}
	return time.Duration(gap) * time.Minute
}
