package routing

import (
	"context"
	"testing"

	"leadflow-platform/internal/audit"
	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
)

func newTestEngine() (*Engine, *audit.MemoryRepo) {
	repo := audit.NewMemoryRepo()
	return NewEngine(audit.NewService(repo)), repo
}

func TestEngine_PicksFirstUsableChannel(t *testing.T) {
	e, _ := newTestEngine()

	c := campaign.Campaign{ID: "c", ChannelPreferences: []messaging.Channel{messaging.ChannelEmail, messaging.ChannelSMS}}
	l := lead.Lead{ID: "l", Email: "lead@example.com", Phone: "+15550001111"}

	d, err := e.Decide(context.Background(), l, c)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionAssignChannel || d.Channel != messaging.ChannelEmail {
		t.Fatalf("expected email assignment, got %q/%q", d.Action, d.Channel)
	}
}

func TestEngine_FallsThroughToUsableFallback(t *testing.T) {
	e, _ := newTestEngine()

	c := campaign.Campaign{ID: "c", ChannelPreferences: []messaging.Channel{messaging.ChannelEmail, messaging.ChannelSMS}}
	l := lead.Lead{ID: "l", Phone: "+15550001111"} // no email

	d, err := e.Decide(context.Background(), l, c)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Channel != messaging.ChannelSMS {
		t.Fatalf("expected sms fallback, got %q", d.Channel)
	}
}

func TestEngine_RejectsWhenNoViableChannel(t *testing.T) {
	e, _ := newTestEngine()

	c := campaign.Campaign{ID: "c", ChannelPreferences: []messaging.Channel{messaging.ChannelEmail, messaging.ChannelSMS}}
	l := lead.Lead{ID: "l"} // no contact data at all

	d, err := e.Decide(context.Background(), l, c)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionReject {
		t.Fatalf("expected reject, got %q", d.Action)
	}
	if d.Reasoning != "no viable channel" {
		t.Fatalf("expected 'no viable channel' reasoning, got %q", d.Reasoning)
	}
}

func TestEngine_EmptyPreferencesDefaultToChat(t *testing.T) {
	e, _ := newTestEngine()

	c := campaign.Campaign{ID: "c"} // no preferences configured
	l := lead.Lead{ID: "l"}

	d, err := e.Decide(context.Background(), l, c)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Action != ActionAssignChannel || d.Channel != messaging.ChannelChat {
		t.Fatalf("expected chat fallback, got %q/%q", d.Action, d.Channel)
	}
}

func TestEngine_MalformedPreferencesDefaultToChat(t *testing.T) {
	e, _ := newTestEngine()

	c := campaign.Campaign{ID: "c", ChannelPreferences: []messaging.Channel{"carrier_pigeon", "fax"}}
	l := lead.Lead{ID: "l"}

	d, err := e.Decide(context.Background(), l, c)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Channel != messaging.ChannelChat {
		t.Fatalf("expected chat fallback for malformed prefs, got %q", d.Channel)
	}
}

func TestEngine_WritesAuditRecordPerDecision(t *testing.T) {
	e, repo := newTestEngine()

	c := campaign.Campaign{ID: "c", ChannelPreferences: []messaging.Channel{messaging.ChannelEmail}}
	l := lead.Lead{ID: "l", Email: "lead@example.com", CampaignID: "c"}

	if _, err := e.Decide(context.Background(), l, c); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.EventsOfType(audit.EventTypeRoutingDecision)
	if len(evs) != 1 {
		t.Fatalf("expected 1 routing decision event, got %d", len(evs))
	}
	if evs[0].LeadID != "l" || evs[0].CampaignID != "c" {
		t.Fatalf("expected lead/campaign keys on audit event, got %+v", evs[0])
	}
}
