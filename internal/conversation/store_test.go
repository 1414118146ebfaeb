package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadflow-platform/internal/messaging"
)

func newStore(t *testing.T) (*MemoryStore, time.Time) {
	t.Helper()
	s := NewMemoryStore()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, now
}

func TestEnsureIsIdempotentPerChannel(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	c1, err := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if c1.Status != StatusActive {
		t.Fatalf("status = %s, want active", c1.Status)
	}

	c2, err := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("second ensure created a new conversation")
	}

	c3, err := s.Ensure(ctx, "lead-1", messaging.ChannelEmail)
	if err != nil {
		t.Fatalf("email ensure: %v", err)
	}
	if c3.ID == c1.ID {
		t.Fatalf("channels must not share a conversation")
	}

	if _, err := s.Ensure(ctx, "", messaging.ChannelSMS); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty lead: got %v", err)
	}
}

func TestAppendRejectsTerminal(t *testing.T) {
	s, now := newStore(t)
	ctx := context.Background()

	c, _ := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)
	if err := s.Append(ctx, c.ID, Message{Role: RoleAgent, Content: "hi", Timestamp: now}); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := s.TransitionStatus(ctx, c.ID, StatusActive, StatusHandedOver)
	if err != nil || !ok {
		t.Fatalf("transition: ok=%v err=%v", ok, err)
	}

	err = s.Append(ctx, c.ID, Message{Role: RoleLead, Content: "late reply"})
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("append after handover: got %v, want ErrTerminal", err)
	}

	got, _ := s.Get(ctx, c.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(got.Messages))
	}
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	c, _ := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)

	ok, err := s.TransitionStatus(ctx, c.ID, StatusActive, StatusHandedOver)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}

	// The losing writer must observe false, not an error.
	ok, err = s.TransitionStatus(ctx, c.ID, StatusActive, StatusCompleted)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatalf("terminal conversation accepted a second transition")
	}

	got, _ := s.Get(ctx, c.ID)
	if got.Status != StatusHandedOver {
		t.Fatalf("status = %s, want handed_over", got.Status)
	}
}

func TestSetScoreKeepsMax(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	c, _ := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)

	if err := s.SetScore(ctx, c.ID, 60); err != nil {
		t.Fatalf("set score: %v", err)
	}
	if err := s.SetScore(ctx, c.ID, 40); err != nil {
		t.Fatalf("lower score: %v", err)
	}
	got, _ := s.Get(ctx, c.ID)
	if got.QualificationScore != 60 {
		t.Fatalf("score = %d, want 60", got.QualificationScore)
	}

	if err := s.SetScore(ctx, c.ID, 150); err != nil {
		t.Fatalf("clamped score: %v", err)
	}
	got, _ = s.Get(ctx, c.ID)
	if got.QualificationScore != 100 {
		t.Fatalf("score = %d, want clamp to 100", got.QualificationScore)
	}
}

func TestCrossChannelContextAggregates(t *testing.T) {
	s, now := newStore(t)
	ctx := context.Background()

	sms, _ := s.Ensure(ctx, "lead-1", messaging.ChannelSMS)
	email, _ := s.Ensure(ctx, "lead-1", messaging.ChannelEmail)

	_ = s.Append(ctx, sms.ID, Message{Role: RoleAgent, Content: "hi", Timestamp: now})
	_ = s.Append(ctx, sms.ID, Message{Role: RoleLead, Content: "hello", Timestamp: now.Add(time.Minute)})
	_ = s.Append(ctx, email.ID, Message{Role: RoleAgent, Content: "following up", Timestamp: now.Add(2 * time.Minute)})

	_ = s.SetScore(ctx, sms.ID, 30)
	_ = s.SetScore(ctx, email.ID, 55)
	_ = s.MarkGoal(ctx, sms.ID, "provide_budget")
	_ = s.MarkGoal(ctx, email.ID, "book_demo")

	cc, err := s.CrossChannelContext(ctx, "lead-1")
	if err != nil {
		t.Fatalf("cross channel: %v", err)
	}
	if cc.TotalMessages != 3 {
		t.Fatalf("total messages = %d", cc.TotalMessages)
	}
	if cc.HighestScore != 55 {
		t.Fatalf("highest score = %d", cc.HighestScore)
	}
	if !cc.Goals["provide_budget"] || !cc.Goals["book_demo"] {
		t.Fatalf("goals = %v, want union across channels", cc.Goals)
	}
	if !cc.LastOutboundAt.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("last outbound = %v", cc.LastOutboundAt)
	}

	at, ok, err := s.LastTouchAt(ctx, "lead-1")
	if err != nil || !ok {
		t.Fatalf("last touch: ok=%v err=%v", ok, err)
	}
	if !at.Equal(cc.LastOutboundAt) {
		t.Fatalf("last touch = %v", at)
	}

	// A never-touched lead reports ok=false.
	if _, ok, _ := s.LastTouchAt(ctx, "lead-2"); ok {
		t.Fatalf("untouched lead reported a touch time")
	}
}
