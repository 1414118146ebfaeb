package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/coordination"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
)

// Service runs the campaign execution state machine.
//
// Delivery model: jobs arrive at-least-once from the queue, so RunDue must be
// idempotent. Terminal executions no-op; the scheduled -> executing swap is a
// CAS, so two workers racing on the same execution cannot both send.
type Service struct {
	Repo          Repository
	Campaigns     campaign.Repository
	Leads         lead.Repository
	Coordinator   Coordinator
	Sender        messaging.Sender
	Communications messaging.Repository
	Conversations conversation.Store
	Composer      ContentComposer

	// Enqueue schedules the touch job that will call RunDue at runAt.
	// Optional: nil means jobs are driven externally (tests).
	Enqueue EnqueueFunc

	// Evaluator is notified after every outbound message is appended.
	// Optional and best-effort; evaluation failures never fail the send.
	Evaluator Evaluator

	Log *slog.Logger
	Now func() time.Time

	// MaxAttempts bounds provider send attempts; BackoffBase seeds the
	// exponential backoff between them.
	MaxAttempts int
	BackoffBase time.Duration
}

// Coordinator is the contention check re-evaluated at execution time.
type Coordinator interface {
	NextAction(ctx context.Context, leadID, campaignID string) (coordination.Decision, error)
}

// ContentComposer renders the outbound content for a template.
type ContentComposer interface {
	Compose(ctx context.Context, templateID string, l lead.Lead, conv conversation.Conversation) (string, error)
}

// Evaluator re-scores a conversation after a new message.
type Evaluator interface {
	AfterMessage(ctx context.Context, leadID string, ch messaging.Channel) error
}

type EnqueueFunc func(ctx context.Context, executionID, leadID string, runAt time.Time) error

const (
	defaultMaxAttempts = 4
	defaultBackoffBase = time.Minute
)

var (
	ErrNotConfigured = errors.New("scheduler: missing dependency")
)

// ScheduleTouch creates a scheduled execution for one touch.
//
// Calling it twice with the same (campaignID, leadID, templateID,
// scheduledFor) while the first execution is still live returns the existing
// execution id instead of creating a duplicate.
func (s *Service) ScheduleTouch(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (string, error) {
	if campaignID == "" || leadID == "" || templateID == "" {
		return "", ErrInvalidArgument
	}
	scheduledFor = scheduledFor.UTC()

	if existing, ok, err := s.Repo.FindLive(ctx, campaignID, leadID, templateID, scheduledFor); err != nil {
		return "", err
	} else if ok {
		return existing.ID, nil
	}

	e := Execution{
		ID:           uuid.NewString(),
		CampaignID:   campaignID,
		LeadID:       leadID,
		TemplateID:   templateID,
		ScheduledFor: scheduledFor,
		Status:       StatusScheduled,
	}
	if err := s.Repo.Create(ctx, e); err != nil {
		return "", err
	}
	if err := s.enqueue(ctx, e.ID, leadID, scheduledFor); err != nil {
		return "", err
	}
	return e.ID, nil
}

// CancelExecution transitions scheduled -> cancelled.
// It reports false for executions that are already terminal (no-op) and for
// executions currently executing (the in-flight window is handled by the
// superseded marking in RunDue).
func (s *Service) CancelExecution(ctx context.Context, id string) (bool, error) {
	return s.Repo.Transition(ctx, id, StatusScheduled, StatusCancelled)
}

// CancelForLead cancels every scheduled execution for the lead. Handover
// calls this; eventual application before the next fire is enough because
// RunDue re-checks status under CAS.
func (s *Service) CancelForLead(ctx context.Context, leadID string) (int, error) {
	execs, err := s.Repo.ListScheduledByLead(ctx, leadID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range execs {
		ok, err := s.Repo.Transition(ctx, e.ID, StatusScheduled, StatusCancelled)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// RunDue processes one due execution. Safe to call repeatedly for the same
// execution id; only one caller wins the scheduled -> executing swap.
func (s *Service) RunDue(ctx context.Context, executionID string) error {
	if s.Repo == nil || s.Campaigns == nil || s.Leads == nil || s.Coordinator == nil ||
		s.Sender == nil || s.Communications == nil || s.Conversations == nil || s.Composer == nil {
		return ErrNotConfigured
	}
	log := s.log().With("execution_id", executionID)

	e, err := s.Repo.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if e.Status != StatusScheduled {
		// Terminal or already claimed by another worker: at-least-once
		// redelivery lands here.
		log.Debug("execution not runnable", "status", string(e.Status))
		return nil
	}

	claimed, err := s.Repo.Transition(ctx, e.ID, StatusScheduled, StatusExecuting)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	// Coordination is wall-clock-relative; re-check now, not at schedule time.
	dec, err := s.Coordinator.NextAction(ctx, e.LeadID, e.CampaignID)
	if err != nil {
		// Transient infrastructure failure: put the execution back and let
		// the queue redeliver.
		if _, rerr := s.Repo.Reschedule(ctx, e.ID, StatusExecuting, s.now().Add(s.backoffBase())); rerr != nil {
			return rerr
		}
		return err
	}
	if !dec.Allowed {
		// A denial is not an error: reschedule to the earliest allowed time.
		if _, err := s.Repo.Reschedule(ctx, e.ID, StatusExecuting, dec.EarliestAllowedAt); err != nil {
			return err
		}
		log.Info("touch deferred by coordination", "reason", dec.Reason, "rescheduled_for", dec.EarliestAllowedAt)
		return s.enqueue(ctx, e.ID, e.LeadID, dec.EarliestAllowedAt)
	}

	l, err := s.Leads.Get(ctx, e.LeadID)
	if err != nil {
		return err
	}
	conv, err := s.Conversations.Ensure(ctx, e.LeadID, dec.Channel)
	if err != nil {
		return err
	}
	if conv.Status.Terminal() {
		// Handed over or completed after this execution was claimed:
		// suppress the touch instead of sending it.
		if _, err := s.Repo.Transition(ctx, e.ID, StatusExecuting, StatusCancelled); err != nil {
			return err
		}
		log.Info("touch suppressed, conversation terminal", "conversation_status", string(conv.Status))
		return nil
	}
	content, err := s.Composer.Compose(ctx, e.TemplateID, l, conv)
	if err != nil {
		return s.handleSendFailure(ctx, e, messaging.NewPermanentError("template composition failed", err))
	}

	res, err := s.Sender.Send(ctx, messaging.SendRequest{
		Channel:   dec.Channel,
		Recipient: recipientFor(dec.Channel, l),
		Content:   content,
		LeadID:    l.ID,
	})
	if err != nil {
		return s.handleSendFailure(ctx, e, err)
	}

	return s.complete(ctx, e, dec, conv, content, res)
}

func (s *Service) handleSendFailure(ctx context.Context, e Execution, sendErr error) error {
	log := s.log().With("execution_id", e.ID, "lead_id", e.LeadID)
	attempts := e.Attempts + 1

	if messaging.IsRetryable(sendErr) && attempts < s.maxAttempts() {
		if err := s.Repo.RecordAttempt(ctx, e.ID, attempts, sendErr.Error()); err != nil {
			return err
		}
		retryAt := s.now().Add(s.backoff(attempts))
		if _, err := s.Repo.Reschedule(ctx, e.ID, StatusExecuting, retryAt); err != nil {
			return err
		}
		log.Warn("send failed, retrying", "attempt", attempts, "retry_at", retryAt, "err", sendErr)
		return s.enqueue(ctx, e.ID, e.LeadID, retryAt)
	}

	// Exhausted or permanent: failed is terminal and must be reported,
	// never silently dropped.
	if err := s.Repo.RecordAttempt(ctx, e.ID, attempts, sendErr.Error()); err != nil {
		return err
	}
	if _, err := s.Repo.Transition(ctx, e.ID, StatusExecuting, StatusFailed); err != nil {
		return err
	}
	if !messaging.IsRetryable(sendErr) {
		if err := s.Leads.FlagForReview(ctx, e.LeadID); err != nil && !errors.Is(err, lead.ErrNotFound) {
			return err
		}
	}
	log.Error("execution failed", "attempts", attempts, "err", sendErr)
	return nil
}

func (s *Service) complete(ctx context.Context, e Execution, dec coordination.Decision, conv conversation.Conversation, content string, res messaging.SendResult) error {
	log := s.log().With("execution_id", e.ID, "lead_id", e.LeadID)
	sentAt := s.now().UTC()

	completed, err := s.Repo.Transition(ctx, e.ID, StatusExecuting, StatusCompleted)
	if err != nil {
		return err
	}
	// The send happened either way; the communication trail must reflect it.
	superseded := !completed
	if superseded {
		if err := s.Repo.MarkSuperseded(ctx, e.ID); err != nil {
			return err
		}
		log.Warn("execution completed after cancellation; sequence not advanced")
	}

	comm := messaging.Communication{
		ID:         uuid.NewString(),
		LeadID:     e.LeadID,
		Channel:    dec.Channel,
		Direction:  messaging.DirectionOutbound,
		Content:    content,
		ExternalID: res.ExternalID,
		Status:     res.Status,
		Superseded: superseded,
		CreatedAt:  sentAt,
	}
	if err := s.Communications.Append(ctx, comm); err != nil {
		return err
	}

	appendErr := s.Conversations.Append(ctx, conv.ID, conversation.Message{
		Role:      conversation.RoleAgent,
		Content:   content,
		Timestamp: sentAt,
	})
	if appendErr != nil && !errors.Is(appendErr, conversation.ErrTerminal) {
		return appendErr
	}

	if superseded {
		return nil
	}

	// Advance before evaluating: a handover fired by the evaluation cancels
	// the lead's scheduled touches, and the next step must already exist for
	// that sweep to catch it.
	if err := s.advance(ctx, e, sentAt); err != nil {
		return err
	}

	if s.Evaluator != nil {
		if err := s.Evaluator.AfterMessage(ctx, e.LeadID, dec.Channel); err != nil {
			log.Warn("post-send evaluation failed", "err", err)
		}
	}

	return nil
}

// advance schedules the next touch-sequence step relative to this send time.
func (s *Service) advance(ctx context.Context, e Execution, sentAt time.Time) error {
	camp, err := s.Campaigns.Get(ctx, e.CampaignID)
	if err != nil {
		return err
	}
	next, ok := nextStep(camp, e.TemplateID)
	if !ok {
		return nil
	}
	_, err = s.ScheduleTouch(ctx, e.CampaignID, e.LeadID, next.TemplateID, sentAt.Add(next.Delay()))
	return err
}

func nextStep(camp campaign.Campaign, currentTemplateID string) (campaign.TouchStep, bool) {
	for i, step := range camp.TouchSequence {
		if step.TemplateID == currentTemplateID && i+1 < len(camp.TouchSequence) {
			return camp.TouchSequence[i+1], true
		}
	}
	return campaign.TouchStep{}, false
}

func recipientFor(ch messaging.Channel, l lead.Lead) string {
	switch ch {
	case messaging.ChannelEmail:
		return l.Email
	case messaging.ChannelSMS:
		return l.Phone
	default:
		// Chat delivers by lead identity, not address.
		return l.ID
	}
}

func (s *Service) enqueue(ctx context.Context, executionID, leadID string, runAt time.Time) error {
	if s.Enqueue == nil {
		return nil
	}
	return s.Enqueue(ctx, executionID, leadID, runAt)
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.backoffBase()
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (s *Service) backoffBase() time.Duration {
	if s.BackoffBase > 0 {
		return s.BackoffBase
	}
	return defaultBackoffBase
}

func (s *Service) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
