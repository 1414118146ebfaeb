package messaging

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Webhook form parsing for the ingestion boundary.
//
// Providers post application/x-www-form-urlencoded. Business logic (handover
// evaluation, coordination) is not made here. Inbound replies are handed to
// the worker loop so per-lead serialization stays enforceable; delivery
// receipts are a keyed status update and apply synchronously.

// InboundMessageForm captures an inbound reply pushed by a provider.
type InboundMessageForm struct {
	LeadID     string
	Channel    Channel
	Content    string
	ReceivedAt time.Time
}

// DeliveryStatusForm captures a provider delivery receipt.
type DeliveryStatusForm struct {
	ExternalID string
	Status     DeliveryStatus
}

var (
	ErrMissingField   = errors.New("messaging: required webhook field missing")
	ErrUnknownChannel = errors.New("messaging: unknown channel")
	ErrUnknownStatus  = errors.New("messaging: unknown delivery status")
)

func ParseInboundMessage(r *http.Request, now time.Time) (InboundMessageForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundMessageForm{}, err
	}

	f := InboundMessageForm{
		LeadID:  strings.TrimSpace(r.PostFormValue("lead_id")),
		Content: r.PostFormValue("content"),
	}
	if f.LeadID == "" || f.Content == "" {
		return InboundMessageForm{}, ErrMissingField
	}

	ch := Channel(strings.ToLower(strings.TrimSpace(r.PostFormValue("channel"))))
	if !ch.Valid() {
		return InboundMessageForm{}, ErrUnknownChannel
	}
	f.Channel = ch

	f.ReceivedAt = now
	if raw := strings.TrimSpace(r.PostFormValue("received_at")); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			f.ReceivedAt = ts
		}
		// Unparseable provider timestamps fall back to receipt time.
	}
	return f, nil
}

func ParseDeliveryStatus(r *http.Request) (DeliveryStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return DeliveryStatusForm{}, err
	}

	f := DeliveryStatusForm{
		ExternalID: strings.TrimSpace(r.PostFormValue("external_id")),
	}
	if f.ExternalID == "" {
		return DeliveryStatusForm{}, ErrMissingField
	}

	switch DeliveryStatus(strings.ToLower(strings.TrimSpace(r.PostFormValue("status")))) {
	case DeliveryStatusDelivered:
		f.Status = DeliveryStatusDelivered
	case DeliveryStatusFailed:
		f.Status = DeliveryStatusFailed
	case DeliveryStatusSent:
		f.Status = DeliveryStatusSent
	default:
		return DeliveryStatusForm{}, ErrUnknownStatus
	}
	return f, nil
}
