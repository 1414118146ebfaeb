package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sender defines the provider-agnostic outbound send capability used by business logic.
//
// Rules:
// - No provider SDK calls outside messaging adapters.
// - Keep request/response types provider-agnostic; store provider raw payloads in metadata if needed.
// - Implementations must honor context cancellation; callers wrap sends with a call-level timeout
//   so a stuck provider cannot block a worker indefinitely.
type Sender interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Channel is the closed set of outreach channels.
// Dispatch on Channel must be exhaustive; do not compare raw strings elsewhere.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SendRequest is one outbound message at the provider boundary.
type SendRequest struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Content   string  `json:"content"`

	// LeadID is carried for provider-side threading/metadata only.
	LeadID string `json:"lead_id,omitempty"`
}

type SendResult struct {
	// ExternalID is the provider's identifier for the accepted message.
	ExternalID string `json:"external_id"`

	Status DeliveryStatus `json:"status"`
}

type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// SendError classifies provider failures.
//
// Network and 5xx-class failures are retryable; invalid-recipient-class
// failures are not and flag the lead for manual review.
type SendError struct {
	Retryable bool
	Reason    string
	Err       error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("messaging: %s send failure (%s): %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("messaging: %s send failure (%s)", kind, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }

// NewRetryableError wraps a transient provider failure (timeout, 5xx).
func NewRetryableError(reason string, err error) *SendError {
	return &SendError{Retryable: true, Reason: reason, Err: err}
}

// NewPermanentError wraps a non-retryable failure (invalid address/number).
func NewPermanentError(reason string, err error) *SendError {
	return &SendError{Retryable: false, Reason: reason, Err: err}
}

// IsRetryable reports whether err should be retried with backoff.
// Unclassified errors are treated as retryable: the provider boundary is a
// network boundary, and unknown failures there are most often transient.
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return err != nil
}

// TimeoutSender wraps a Sender with a call-level timeout.
type TimeoutSender struct {
	Inner   Sender
	Timeout time.Duration
}

func (s TimeoutSender) Name() string { return s.Inner.Name() }

func (s TimeoutSender) HealthCheck(ctx context.Context) error { return s.Inner.HealthCheck(ctx) }

func (s TimeoutSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.Inner.Send(sendCtx, req)
	if err != nil && sendCtx.Err() != nil {
		return SendResult{}, NewRetryableError("provider call timed out", err)
	}
	return res, err
}
