package messaging

import (
	"context"
	"fmt"
)

// Router dispatches a send to the provider registered for its channel.
// It is itself a Sender so callers stay provider-agnostic.
type Router struct {
	senders map[Channel]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[Channel]Sender)}
}

func (r *Router) Register(ch Channel, s Sender) {
	r.senders[ch] = s
}

// Senders exposes the registered map for callers that address channels
// directly (the worker's one-off send jobs).
func (r *Router) Senders() map[Channel]Sender {
	return r.senders
}

func (r *Router) Name() string { return "router" }

func (r *Router) HealthCheck(ctx context.Context) error {
	for ch, s := range r.senders {
		if err := s.HealthCheck(ctx); err != nil {
			return fmt.Errorf("messaging: %s provider unhealthy: %w", ch, err)
		}
	}
	return nil
}

func (r *Router) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	s, ok := r.senders[req.Channel]
	if !ok {
		return SendResult{}, NewPermanentError("no_provider", fmt.Errorf("messaging: no provider for channel %q", req.Channel))
	}
	return s.Send(ctx, req)
}
