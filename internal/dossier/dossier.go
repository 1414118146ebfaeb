package dossier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/lead"
)

// Generate compiles the human-readable summary attached to a handover.
//
// It is a pure function of its input: regenerating with the same input yields
// byte-for-byte identical output, so the dossier can be previewed without
// mutating anything.

type Input struct {
	Lead     lead.Lead
	Campaign campaign.Campaign

	// Conversations is the cross-channel set for the lead.
	Conversations []conversation.Conversation

	Evaluation Evaluation
}

// Evaluation is the handover evaluator's verdict at generation time.
type Evaluation struct {
	Score              int
	ConversationLength int
	ElapsedMinutes     int
	MatchedKeyword     string
	GoalsSatisfied     []string

	ScoreMet    bool
	LengthMet   bool
	TimeMet     bool
	KeywordMet  bool
	GoalsMet    bool
}

type Dossier struct {
	LeadID      string `json:"lead_id"`
	GeneratedBy string `json:"generated_by"`

	// RecommendedRecipients is the campaign's recipient list ordered by
	// priority (lowest number first).
	RecommendedRecipients []campaign.Recipient `json:"recommended_recipients"`

	// Summary is the rendered text handed to the human.
	Summary string `json:"summary"`
}

func Generate(in Input) Dossier {
	recipients := make([]campaign.Recipient, len(in.Campaign.Handover.HandoverRecipients))
	copy(recipients, in.Campaign.Handover.HandoverRecipients)
	sort.SliceStable(recipients, func(i, j int) bool {
		return recipients[i].Priority < recipients[j].Priority
	})

	return Dossier{
		LeadID:                in.Lead.ID,
		GeneratedBy:           "handover_evaluator",
		RecommendedRecipients: recipients,
		Summary:               render(in, recipients),
	}
}

func render(in Input, recipients []campaign.Recipient) string {
	var b strings.Builder

	b.WriteString("LEAD DOSSIER\n")
	b.WriteString("============\n\n")

	b.WriteString("Lead\n")
	fmt.Fprintf(&b, "  Name:  %s\n", in.Lead.Name)
	if in.Lead.Email != "" {
		fmt.Fprintf(&b, "  Email: %s\n", in.Lead.Email)
	}
	if in.Lead.Phone != "" {
		fmt.Fprintf(&b, "  Phone: %s\n", in.Lead.Phone)
	}
	fmt.Fprintf(&b, "  Status: %s\n\n", in.Lead.Status)

	fmt.Fprintf(&b, "Campaign: %s\n", in.Campaign.Name)
	if goals := in.Campaign.Qualification.RequiredGoals; len(goals) > 0 {
		fmt.Fprintf(&b, "  Goals: %s\n", strings.Join(goals, ", "))
	}
	b.WriteString("\n")

	ev := in.Evaluation
	fmt.Fprintf(&b, "Qualification score: %d/100\n", ev.Score)
	b.WriteString("Criteria\n")
	fmt.Fprintf(&b, "  score threshold:      %s\n", passFail(ev.ScoreMet))
	fmt.Fprintf(&b, "  conversation length:  %s (%d messages)\n", passFail(ev.LengthMet), ev.ConversationLength)
	fmt.Fprintf(&b, "  time threshold:       %s (%d minutes elapsed)\n", passFail(ev.TimeMet), ev.ElapsedMinutes)
	if ev.MatchedKeyword != "" {
		fmt.Fprintf(&b, "  keyword trigger:      %s (%q)\n", passFail(ev.KeywordMet), ev.MatchedKeyword)
	} else {
		fmt.Fprintf(&b, "  keyword trigger:      %s\n", passFail(ev.KeywordMet))
	}
	fmt.Fprintf(&b, "  required goals:       %s", passFail(ev.GoalsMet))
	if len(ev.GoalsSatisfied) > 0 {
		goals := append([]string(nil), ev.GoalsSatisfied...)
		sort.Strings(goals)
		fmt.Fprintf(&b, " (%s)", strings.Join(goals, ", "))
	}
	b.WriteString("\n\n")

	if len(recipients) > 0 {
		b.WriteString("Recommended recipients (by priority)\n")
		for _, r := range recipients {
			fmt.Fprintf(&b, "  %d. %s <%s>\n", r.Priority, r.Name, r.Email)
		}
		b.WriteString("\n")
	}

	b.WriteString("Conversation history\n")
	for _, m := range mergeHistory(in.Conversations) {
		fmt.Fprintf(&b, "  [%s] %-5s %-5s %s\n",
			m.at.UTC().Format(time.RFC3339), m.channel, m.role, m.content)
	}

	return b.String()
}

type historyLine struct {
	at      time.Time
	channel string
	role    string
	content string
}

// mergeHistory merges all channels chronologically. Ties order by channel
// name then role so the merge is stable across regenerations.
func mergeHistory(convs []conversation.Conversation) []historyLine {
	var out []historyLine
	for _, c := range convs {
		for _, m := range c.Messages {
			out = append(out, historyLine{
				at:      m.Timestamp,
				channel: string(c.Channel),
				role:    string(m.Role),
				content: m.Content,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		if out[i].channel != out[j].channel {
			return out[i].channel < out[j].channel
		}
		return out[i].role < out[j].role
	})
	return out
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "fail"
}
