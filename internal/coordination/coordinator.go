package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/routing"
)

// Coordinator decides which of several assigned agents may send the next
// message to a shared lead.
//
// Evaluation order:
//  1) Message gap: no outbound touch before lastTouchAt + campaign gap.
//  2) Strategy: round_robin, priority_based, or channel_specific.
//
// Decisions are wall-clock-relative (gap windows, working hours), so callers
// must re-evaluate at execution time, not only at scheduling time.
//
// Return a Decision only. No side effects beyond round-robin turn state.
type Coordinator struct {
	Campaigns campaign.Repository
	Leads     LeadGetter
	Touches   TouchLog
	Turns     TurnStore

	Now func() time.Time
}

// LeadGetter is the minimal lead read contract (contact usability checks).
type LeadGetter interface {
	Get(ctx context.Context, id string) (lead.Lead, error)
}

// TouchLog resolves the last outbound touch to a lead across all channels.
// The conversation store implements it.
type TouchLog interface {
	LastTouchAt(ctx context.Context, leadID string) (time.Time, bool, error)
}

// TurnStore holds the last-used agent index per (campaign, lead) for the
// round-robin strategy.
type TurnStore interface {
	Last(ctx context.Context, campaignID, leadID string) (int, bool, error)
	Set(ctx context.Context, campaignID, leadID string, idx int) error
}

// Decision says whether an agent may act now, and if not, when the next
// attempt may happen.
type Decision struct {
	Allowed bool `json:"allowed"`

	AgentID string            `json:"agent_id,omitempty"`
	Channel messaging.Channel `json:"channel,omitempty"`

	// EarliestAllowedAt is when the caller may (re)try. For an allowed
	// decision it is the evaluation time.
	EarliestAllowedAt time.Time `json:"earliest_allowed_at"`

	Reason string `json:"reason,omitempty"`
}

var (
	ErrNoAgents        = errors.New("coordination: campaign has no assigned agents")
	ErrInvalidArgument = errors.New("coordination: lead and campaign ids required")
)

func NewCoordinator(campaigns campaign.Repository, leads LeadGetter, touches TouchLog, turns TurnStore) *Coordinator {
	return &Coordinator{Campaigns: campaigns, Leads: leads, Touches: touches, Turns: turns, Now: time.Now}
}

// NextAction resolves the next eligible (agent, channel) for the lead.
//
// Gap, working hours, and turn order are all evaluated against the current
// wall clock.
func (c *Coordinator) NextAction(ctx context.Context, leadID, campaignID string) (Decision, error) {
	if leadID == "" || campaignID == "" {
		return Decision{}, ErrInvalidArgument
	}

	camp, err := c.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return Decision{}, err
	}
	if len(camp.AssignedAgents) == 0 {
		return Decision{}, ErrNoAgents
	}

	now := c.Now().UTC()

	// 1) Message gap applies to every strategy.
	if last, ok, err := c.Touches.LastTouchAt(ctx, leadID); err != nil {
		return Decision{}, err
	} else if ok {
		next := last.Add(camp.MessageGap())
		if now.Before(next) {
			return Decision{Allowed: false, EarliestAllowedAt: next, Reason: "message_gap"}, nil
		}
	}

	// 2) Strategy.
	switch camp.Strategy {
	case campaign.StrategyPriorityBased:
		return c.priorityBased(ctx, leadID, camp, now)
	case campaign.StrategyChannelSpecific:
		return c.channelSpecific(ctx, leadID, camp, now)
	default:
		return c.roundRobin(ctx, leadID, camp, now)
	}
}

func (c *Coordinator) roundRobin(ctx context.Context, leadID string, camp campaign.Campaign, now time.Time) (Decision, error) {
	agents := camp.AssignedAgents
	lastIdx := -1
	if c.Turns != nil {
		if idx, ok, err := c.Turns.Last(ctx, camp.ID, leadID); err != nil {
			return Decision{}, err
		} else if ok {
			lastIdx = idx
		}
	}

	// Take turns in assignment order, skipping agents outside their window.
	for step := 1; step <= len(agents); step++ {
		idx := (lastIdx + step) % len(agents)
		a := agents[idx]
		if !a.Hours.InWindow(now) {
			continue
		}
		ch, ok := c.usableChannel(ctx, leadID, a)
		if !ok {
			continue
		}
		if c.Turns != nil {
			if err := c.Turns.Set(ctx, camp.ID, leadID, idx); err != nil {
				return Decision{}, err
			}
		}
		return Decision{Allowed: true, AgentID: a.AgentID, Channel: ch, EarliestAllowedAt: now}, nil
	}
	return c.allOutsideHours(camp, now), nil
}

func (c *Coordinator) priorityBased(ctx context.Context, leadID string, camp campaign.Campaign, now time.Time) (Decision, error) {
	for _, role := range []campaign.AgentRole{campaign.AgentRolePrimary, campaign.AgentRoleSecondary, campaign.AgentRoleFallback} {
		for _, a := range camp.AssignedAgents {
			if a.Role != role {
				continue
			}
			if !a.Hours.InWindow(now) {
				continue
			}
			if ch, ok := c.usableChannel(ctx, leadID, a); ok {
				return Decision{Allowed: true, AgentID: a.AgentID, Channel: ch, EarliestAllowedAt: now}, nil
			}
		}
	}
	return c.allOutsideHours(camp, now), nil
}

// channelSpecific lets each channel's responsible agent act independently of
// the others: the first preference-ordered channel that is usable for the
// lead and staffed by an in-window agent wins; there is no shared turn order.
func (c *Coordinator) channelSpecific(ctx context.Context, leadID string, camp campaign.Campaign, now time.Time) (Decision, error) {
	l, err := c.Leads.Get(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}

	prefs := camp.ChannelPreferences
	if len(prefs) == 0 {
		prefs = []messaging.Channel{messaging.ChannelEmail, messaging.ChannelSMS, messaging.ChannelChat}
	}
	for _, ch := range prefs {
		if !ch.Valid() || !routing.ChannelUsable(ch, l) {
			continue
		}
		for _, a := range camp.AssignedAgents {
			if !a.HandlesChannel(ch) {
				continue
			}
			if !a.Hours.InWindow(now) {
				continue
			}
			return Decision{Allowed: true, AgentID: a.AgentID, Channel: ch, EarliestAllowedAt: now}, nil
		}
	}
	return c.allOutsideHours(camp, now), nil
}

// usableChannel returns the agent's first channel the lead is reachable on.
func (c *Coordinator) usableChannel(ctx context.Context, leadID string, a campaign.AgentAssignment) (messaging.Channel, bool) {
	l, err := c.Leads.Get(ctx, leadID)
	if err != nil {
		return "", false
	}
	for _, ch := range a.Channels {
		if routing.ChannelUsable(ch, l) {
			return ch, true
		}
	}
	return "", false
}

// allOutsideHours produces a denial with the earliest next working-window
// opening across all assigned agents.
func (c *Coordinator) allOutsideHours(camp campaign.Campaign, now time.Time) Decision {
	var earliest time.Time
	for _, a := range camp.AssignedAgents {
		open := a.Hours.NextOpen(now)
		if earliest.IsZero() || open.Before(earliest) {
			earliest = open
		}
	}
	if earliest.IsZero() || !earliest.After(now) {
		// No agent can ever act (e.g. no usable channel): back off an hour
		// so the execution re-checks instead of spinning.
		earliest = now.Add(time.Hour)
	}
	return Decision{Allowed: false, EarliestAllowedAt: earliest, Reason: "no_eligible_agent"}
}

// MemoryTurnStore is the in-memory TurnStore.
type MemoryTurnStore struct {
	mu   sync.Mutex
	last map[string]int
}

func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{last: make(map[string]int)}
}

func turnKey(campaignID, leadID string) string { return campaignID + "|" + leadID }

func (s *MemoryTurnStore) Last(ctx context.Context, campaignID, leadID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.last[turnKey(campaignID, leadID)]
	return idx, ok, nil
}

func (s *MemoryTurnStore) Set(ctx context.Context, campaignID, leadID string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[turnKey(campaignID, leadID)] = idx
	return nil
}
