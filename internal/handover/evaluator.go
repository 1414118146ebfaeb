package handover

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/dossier"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
)

// Evaluator re-scores a conversation after every appended message and fires
// an at-most-once handover when all criteria hold.
//
// Atomicity: the conversation's active -> handed_over transition is a CAS,
// so of two concurrent evaluations only one proceeds to create the Record.
// The repository's per-conversation uniqueness is the second line of
// defense; tripping it is an anomaly worth an audit event, not a retry.
type Evaluator struct {
	Conversations conversation.Store
	Campaigns     campaign.Repository
	Leads         lead.Repository
	Records       Repository
	Scorer        Scorer

	// Executions cancels the lead's pending touches once handed over.
	Executions ExecutionCanceller

	Audit AuditLogger

	Log *slog.Logger
	Now func() time.Time
}

type ExecutionCanceller interface {
	CancelForLead(ctx context.Context, leadID string) (int, error)
}

type AuditLogger interface {
	LogHandover(ctx context.Context, leadID, campaignID, conversationID, message string) error
	LogHandoverAnomaly(ctx context.Context, leadID, conversationID, message string) error
}

// AfterMessage evaluates the (lead, channel) conversation. Evaluation that
// does not fire is a pure no-op.
func (e *Evaluator) AfterMessage(ctx context.Context, leadID string, ch messaging.Channel) error {
	conv, err := e.Conversations.GetByLeadChannel(ctx, leadID, ch)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil
		}
		return err
	}
	if conv.Status.Terminal() {
		return nil
	}

	l, err := e.Leads.Get(ctx, leadID)
	if err != nil {
		return err
	}
	camp, err := e.Campaigns.Get(ctx, l.CampaignID)
	if err != nil {
		return err
	}

	// Scoring is monotonic: the store keeps max(current, computed).
	score := e.Scorer.Score(conv)
	if err := e.Conversations.SetScore(ctx, conv.ID, score); err != nil {
		return err
	}
	if err := e.Leads.SetScore(ctx, leadID, score); err != nil {
		return err
	}
	if score < conv.QualificationScore {
		score = conv.QualificationScore
	}

	eval := e.evaluate(conv, camp.Handover, score)
	if !eval.ShouldFire() {
		return nil
	}
	return e.fire(ctx, l, camp, conv, eval)
}

func (e *Evaluator) evaluate(conv conversation.Conversation, crit campaign.HandoverCriteria, score int) Evaluation {
	eval := Evaluation{
		Score:              score,
		ConversationLength: len(conv.Messages),
	}

	if len(conv.Messages) > 0 {
		elapsed := e.now().Sub(conv.Messages[0].Timestamp)
		eval.ElapsedMinutes = int(elapsed / time.Minute)
	}

	eval.ScoreMet = score >= crit.QualificationScore
	eval.LengthMet = eval.ConversationLength >= crit.ConversationLength
	eval.TimeMet = crit.TimeThresholdMinutes > 0 && eval.ElapsedMinutes >= crit.TimeThresholdMinutes

	if kw, ok := matchKeyword(conv, crit.KeywordTriggers); ok {
		eval.KeywordMet = true
		eval.MatchedKeyword = kw
	}

	eval.GoalsMet = true
	for _, goal := range crit.GoalCompletionRequired {
		if !conv.GoalProgress[goal] {
			eval.GoalsMet = false
			break
		}
	}
	for goal := range conv.GoalProgress {
		eval.GoalsSatisfied = append(eval.GoalsSatisfied, goal)
	}
	sort.Strings(eval.GoalsSatisfied)

	return eval
}

func (e *Evaluator) fire(ctx context.Context, l lead.Lead, camp campaign.Campaign, conv conversation.Conversation, eval Evaluation) error {
	log := e.log().With("lead_id", l.ID, "conversation_id", conv.ID)

	// The CAS is the at-most-once guard: a losing concurrent evaluation
	// no-ops here.
	won, err := e.Conversations.TransitionStatus(ctx, conv.ID, conversation.StatusActive, conversation.StatusHandedOver)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	convs, err := e.Conversations.ListByLead(ctx, l.ID)
	if err != nil {
		return err
	}
	d := dossier.Generate(dossier.Input{
		Lead:          l,
		Campaign:      camp,
		Conversations: convs,
		Evaluation: dossier.Evaluation{
			Score:              eval.Score,
			ConversationLength: eval.ConversationLength,
			ElapsedMinutes:     eval.ElapsedMinutes,
			MatchedKeyword:     eval.MatchedKeyword,
			GoalsSatisfied:     eval.GoalsSatisfied,
			ScoreMet:           eval.ScoreMet,
			LengthMet:          eval.LengthMet,
			TimeMet:            eval.TimeMet,
			KeywordMet:         eval.KeywordMet,
			GoalsMet:           eval.GoalsMet,
		},
	})

	rec := Record{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		LeadID:         l.ID,
		CampaignID:     camp.ID,
		Recipient:      pickRecipient(camp.Handover.HandoverRecipients),
		DossierSummary: d.Summary,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.Records.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// The CAS should have made this unreachable; reaching it means
			// the status transition and record creation disagreed.
			log.Error("duplicate handover rejected", "err", err)
			if e.Audit != nil {
				_ = e.Audit.LogHandoverAnomaly(ctx, l.ID, conv.ID, "second handover attempt rejected")
			}
			return nil
		}
		return err
	}

	if e.Executions != nil {
		n, err := e.Executions.CancelForLead(ctx, l.ID)
		if err != nil {
			return err
		}
		log.Info("handover fired", "cancelled_executions", n, "recipient", rec.Recipient.Email)
	}

	// Lead becomes qualified; an illegal transition (already qualified or
	// beyond) is fine here.
	if err := e.Leads.UpdateStatus(ctx, l.ID, l.Status, lead.StatusQualified); err != nil &&
		!errors.Is(err, lead.ErrInvalidTransition) {
		return err
	}

	if e.Audit != nil {
		_ = e.Audit.LogHandover(ctx, l.ID, camp.ID, conv.ID, "handover criteria met")
	}
	return nil
}

// pickRecipient returns the highest-priority recipient (lowest number).
func pickRecipient(recipients []campaign.Recipient) campaign.Recipient {
	var best campaign.Recipient
	for i, r := range recipients {
		if i == 0 || r.Priority < best.Priority {
			best = r
		}
	}
	return best
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Evaluator) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
