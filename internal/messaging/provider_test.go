package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSendErrorClassification(t *testing.T) {
	transient := NewRetryableError("provider 503", errors.New("service unavailable"))
	if !IsRetryable(transient) {
		t.Fatalf("transient error must be retryable")
	}

	permanent := NewPermanentError("invalid recipient", nil)
	if IsRetryable(permanent) {
		t.Fatalf("permanent error must not be retryable")
	}

	// Wrapped errors keep their classification.
	wrapped := fmt.Errorf("send step: %w", permanent)
	if IsRetryable(wrapped) {
		t.Fatalf("wrapped permanent error must not be retryable")
	}

	// Unclassified errors default to retryable.
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("unclassified error must default to retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
}

func TestSendErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("dns failure")
	err := NewRetryableError("lookup", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("unwrap lost the cause")
	}
	if msg := err.Error(); msg != "messaging: transient send failure (lookup): dns failure" {
		t.Fatalf("message = %q", msg)
	}
	if msg := NewPermanentError("bad number", nil).Error(); msg != "messaging: permanent send failure (bad number)" {
		t.Fatalf("message = %q", msg)
	}
}

type slowSender struct{}

func (slowSender) Name() string                          { return "slow" }
func (slowSender) HealthCheck(ctx context.Context) error { return nil }

func (slowSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	<-ctx.Done()
	return SendResult{}, ctx.Err()
}

func TestTimeoutSenderClassifiesTimeout(t *testing.T) {
	s := TimeoutSender{Inner: slowSender{}, Timeout: 10 * time.Millisecond}
	_, err := s.Send(context.Background(), SendRequest{Channel: ChannelSMS})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsRetryable(err) {
		t.Fatalf("timeout must be retryable, got %v", err)
	}
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("timeout must surface as SendError, got %T", err)
	}
}

func TestRouterDispatchesByChannel(t *testing.T) {
	r := NewRouter()
	sent := map[Channel]int{}
	r.Register(ChannelEmail, &countingSender{ch: ChannelEmail, sent: sent})
	r.Register(ChannelSMS, &countingSender{ch: ChannelSMS, sent: sent})

	if _, err := r.Send(context.Background(), SendRequest{Channel: ChannelSMS, Recipient: "+15550100"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent[ChannelSMS] != 1 || sent[ChannelEmail] != 0 {
		t.Fatalf("sent = %v", sent)
	}

	_, err := r.Send(context.Background(), SendRequest{Channel: ChannelChat})
	if IsRetryable(err) {
		t.Fatalf("missing provider must be a permanent failure, got %v", err)
	}
}

type countingSender struct {
	ch   Channel
	sent map[Channel]int
}

func (s *countingSender) Name() string                          { return string(s.ch) }
func (s *countingSender) HealthCheck(ctx context.Context) error { return nil }

func (s *countingSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	s.sent[s.ch]++
	return SendResult{ExternalID: "ext-1", Status: DeliveryStatusSent}, nil
}
