package messaging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogSender is the development provider: it records the send in the log and
// reports success. Real provider adapters implement Sender the same way.
type LogSender struct {
	Channel Channel
	Log     *slog.Logger
}

func (s *LogSender) Name() string { return "log_" + string(s.Channel) }

func (s *LogSender) HealthCheck(ctx context.Context) error { return nil }

func (s *LogSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	id := uuid.NewString()
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("outbound message",
		"provider", s.Name(),
		"channel", string(req.Channel),
		"recipient", req.Recipient,
		"lead_id", req.LeadID,
		"external_id", id,
	)
	return SendResult{ExternalID: id, Status: DeliveryStatusSent}, nil
}
