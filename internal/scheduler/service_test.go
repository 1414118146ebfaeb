package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/coordination"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
)

type stubCoordinator struct {
	dec coordination.Decision
	err error
}

func (s stubCoordinator) NextAction(ctx context.Context, leadID, campaignID string) (coordination.Decision, error) {
	return s.dec, s.err
}

type stubSender struct {
	mu     sync.Mutex
	calls  int
	err    error
	onSend func(svc *Service, execID string)
	svc    *Service
	execID string
}

func (s *stubSender) Name() string                          { return "stub" }
func (s *stubSender) HealthCheck(ctx context.Context) error { return nil }

func (s *stubSender) Send(ctx context.Context, req messaging.SendRequest) (messaging.SendResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend(s.svc, s.execID)
	}
	if s.err != nil {
		return messaging.SendResult{}, s.err
	}
	return messaging.SendResult{ExternalID: "ext-1", Status: messaging.DeliveryStatusSent}, nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubComposer struct{}

func (stubComposer) Compose(ctx context.Context, templateID string, l lead.Lead, conv conversation.Conversation) (string, error) {
	return "rendered:" + templateID, nil
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepo
	leads  *lead.MemoryRepo
	camps  *campaign.MemoryRepo
	comms  *messaging.MemoryRepo
	convs  *conversation.MemoryStore
	sender *stubSender
	now    time.Time
}

func threeStepCampaign() campaign.Campaign {
	return campaign.Campaign{
		ID:   "c",
		Name: "drip",
		TouchSequence: []campaign.TouchStep{
			{TemplateID: "t1"},
			{TemplateID: "t2", DelayDays: 1},
			{TemplateID: "t3", DelayDays: 3},
		},
		AssignedAgents: []campaign.AgentAssignment{
			{AgentID: "a", Channels: []messaging.Channel{messaging.ChannelEmail}, Role: campaign.AgentRolePrimary},
		},
		MessageGapMinutes: 1,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepo(),
		leads:  lead.NewMemoryRepo(),
		camps:  campaign.NewMemoryRepo(),
		comms:  messaging.NewMemoryRepo(),
		convs:  conversation.NewMemoryStore(),
		sender: &stubSender{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := f.camps.Put(context.Background(), threeStepCampaign()); err != nil {
		t.Fatalf("put campaign: %v", err)
	}
	if err := f.leads.Create(context.Background(), lead.Lead{ID: "l", Name: "Lee", Email: "lee@example.com", CampaignID: "c", Status: lead.StatusContacted}); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	f.svc = &Service{
		Repo:           f.repo,
		Campaigns:      f.camps,
		Leads:          f.leads,
		Coordinator:    stubCoordinator{dec: coordination.Decision{Allowed: true, AgentID: "a", Channel: messaging.ChannelEmail, EarliestAllowedAt: f.now}},
		Sender:         f.sender,
		Communications: f.comms,
		Conversations:  f.convs,
		Composer:       stubComposer{},
		Now:            func() time.Time { return f.now },
	}
	f.sender.svc = f.svc
	return f
}

func TestScheduleTouch_IdempotentOnLiveTuple(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(time.Hour)

	id1, err := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", at)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	id2, err := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", at)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same execution id, got %s and %s", id1, id2)
	}
}

func TestScheduleTouch_NewTupleAfterTerminal(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(time.Hour)

	id1, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", at)
	if ok, err := f.svc.CancelExecution(context.Background(), id1); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	id2, err := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", at)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("terminal execution must not satisfy the idempotency tuple")
	}
}

func TestCancelExecution_Semantics(t *testing.T) {
	f := newFixture(t)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)

	ok, err := f.svc.CancelExecution(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("expected cancel of scheduled execution, ok=%v err=%v", ok, err)
	}
	// Cancelling again is a no-op returning false.
	ok, err = f.svc.CancelExecution(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected false for already-cancelled execution")
	}

	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", e.Status)
	}
}

func TestRunDue_CancelledExecutionNeverFires(t *testing.T) {
	f := newFixture(t)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if ok, _ := f.svc.CancelExecution(context.Background(), id); !ok {
		t.Fatalf("cancel failed")
	}

	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("cancelled execution sent a message")
	}
}

func TestRunDue_CompletesAndAdvancesSequence(t *testing.T) {
	f := newFixture(t)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", e.Status)
	}

	// Next step scheduled at send time + its delay (1 day).
	next, ok, err := f.repo.FindLive(context.Background(), "c", "l", "t2", f.now.Add(24*time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected t2 scheduled at send+1d: ok=%v err=%v", ok, err)
	}
	if next.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", next.Status)
	}

	// Communication trail and conversation both carry the outbound message.
	comms, _ := f.comms.ListByLead(context.Background(), "l")
	if len(comms) != 1 || comms[0].Direction != messaging.DirectionOutbound {
		t.Fatalf("expected one outbound communication, got %+v", comms)
	}
	conv, err := f.convs.GetByLeadChannel(context.Background(), "l", messaging.ChannelEmail)
	if err != nil || len(conv.Messages) != 1 || conv.Messages[0].Role != conversation.RoleAgent {
		t.Fatalf("expected one agent message in conversation, err=%v conv=%+v", err, conv)
	}
}

func TestRunDue_RerunOfCompletedIsNoop(t *testing.T) {
	f := newFixture(t)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// At-least-once queue redelivery.
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("expected exactly one send, got %d", f.sender.count())
	}
}

func TestRunDue_CoordinationDenialReschedulesNotFails(t *testing.T) {
	f := newFixture(t)
	retryAt := f.now.Add(30 * time.Minute)
	f.svc.Coordinator = stubCoordinator{dec: coordination.Decision{Allowed: false, EarliestAllowedAt: retryAt, Reason: "message_gap"}}

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusScheduled {
		t.Fatalf("expected rescheduled, got %s", e.Status)
	}
	if !e.ScheduledFor.Equal(retryAt) {
		t.Fatalf("expected due time %v, got %v", retryAt, e.ScheduledFor)
	}
	if e.Attempts != 0 {
		t.Fatalf("a denial must not consume the retry budget, attempts=%d", e.Attempts)
	}
	if f.sender.count() != 0 {
		t.Fatalf("denied touch must not send")
	}
}

func TestRunDue_TransientErrorRetriesWithBackoffThenFails(t *testing.T) {
	f := newFixture(t)
	f.svc.MaxAttempts = 2
	f.svc.BackoffBase = time.Minute
	f.sender.err = messaging.NewRetryableError("provider 503", errors.New("upstream down"))

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)

	// Attempt 1: rescheduled with backoff.
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusScheduled || e.Attempts != 1 {
		t.Fatalf("expected retry bookkeeping, got status=%s attempts=%d", e.Status, e.Attempts)
	}
	if !e.ScheduledFor.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("expected backoff due time %v, got %v", f.now.Add(time.Minute), e.ScheduledFor)
	}

	// Attempt 2: budget exhausted, terminal failure.
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e, _ = f.repo.Get(context.Background(), id)
	if e.Status != StatusFailed {
		t.Fatalf("expected failed after exhaustion, got %s", e.Status)
	}
	if e.LastError == "" {
		t.Fatalf("failed execution must report its last error")
	}
}

func TestRunDue_PermanentErrorFailsAndFlagsLead(t *testing.T) {
	f := newFixture(t)
	f.sender.err = messaging.NewPermanentError("invalid recipient", nil)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusFailed {
		t.Fatalf("expected immediate failure, got %s", e.Status)
	}
	l, _ := f.leads.Get(context.Background(), "l")
	if !l.FlaggedForReview {
		t.Fatalf("expected lead flagged for manual review")
	}
}

func TestRunDue_CompletionAfterCancellationIsSuperseded(t *testing.T) {
	f := newFixture(t)

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	f.sender.execID = id
	// Simulate a handover cancelling the execution while the provider call
	// is in flight.
	f.sender.onSend = func(svc *Service, execID string) {
		_, _ = f.repo.Transition(context.Background(), execID, StatusExecuting, StatusCancelled)
	}

	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusCancelled || !e.Superseded {
		t.Fatalf("expected cancelled+superseded, got status=%s superseded=%v", e.Status, e.Superseded)
	}

	// The communication is recorded but marked, and the sequence must not advance.
	comms, _ := f.comms.ListByLead(context.Background(), "l")
	if len(comms) != 1 || !comms[0].Superseded {
		t.Fatalf("expected one superseded communication, got %+v", comms)
	}
	if _, ok, _ := f.repo.FindLive(context.Background(), "c", "l", "t2", f.now.Add(24*time.Hour)); ok {
		t.Fatalf("superseded execution advanced the sequence")
	}
}

func TestCancelForLead_CancelsAllScheduled(t *testing.T) {
	f := newFixture(t)

	id1, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	id2, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t2", f.now.Add(24*time.Hour))

	n, err := f.svc.CancelForLead(context.Background(), "l")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cancellations, got %d", n)
	}
	for _, id := range []string{id1, id2} {
		e, _ := f.repo.Get(context.Background(), id)
		if e.Status != StatusCancelled {
			t.Fatalf("expected cancelled, got %s", e.Status)
		}
	}
}

// firingEvaluator mimics a handover firing on post-send evaluation: it
// moves the conversation to handed_over and sweeps the lead's scheduled
// touches, exactly what handover.Evaluator does when criteria hold.
type firingEvaluator struct {
	svc   *Service
	convs *conversation.MemoryStore
}

func (h *firingEvaluator) AfterMessage(ctx context.Context, leadID string, ch messaging.Channel) error {
	conv, err := h.convs.GetByLeadChannel(ctx, leadID, ch)
	if err != nil {
		return err
	}
	if _, err := h.convs.TransitionStatus(ctx, conv.ID, conversation.StatusActive, conversation.StatusHandedOver); err != nil {
		return err
	}
	_, err = h.svc.CancelForLead(ctx, leadID)
	return err
}

func TestRunDue_HandoverDuringEvaluationCancelsNextStep(t *testing.T) {
	f := newFixture(t)
	f.svc.Evaluator = &firingEvaluator{svc: f.svc, convs: f.convs}

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// The handover sweep must catch the step scheduled by this very send;
	// nothing may remain to touch the handed-over lead.
	left, err := f.repo.ListScheduledByLead(context.Background(), "l")
	if err != nil {
		t.Fatalf("list scheduled: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected no scheduled executions after handover, got %d (template %s)", len(left), left[0].TemplateID)
	}
}

func TestRunDue_TerminalConversationSuppressesTouch(t *testing.T) {
	f := newFixture(t)

	conv, err := f.convs.Ensure(context.Background(), "l", messaging.ChannelEmail)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.convs.TransitionStatus(context.Background(), conv.ID, conversation.StatusActive, conversation.StatusHandedOver); err != nil {
		t.Fatalf("transition: %v", err)
	}

	id, _ := f.svc.ScheduleTouch(context.Background(), "c", "l", "t1", f.now)
	if err := f.svc.RunDue(context.Background(), id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if f.sender.count() != 0 {
		t.Fatalf("sent %d messages into a handed-over conversation, want 0", f.sender.count())
	}
	e, _ := f.repo.Get(context.Background(), id)
	if e.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", e.Status)
	}
}
