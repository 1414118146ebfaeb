package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/queue"
	"leadflow-platform/internal/routing"
)

// Worker drains the job queue. Handlers are idempotent because delivery is
// at least once; per-lead serialization comes from the lock keyed by
// Job.Key.
type Worker struct {
	Queue queue.Queue
	Locks LeadLocker

	Touches   TouchRunner
	Intake    IntakeHandler
	Evaluator HandoverEvaluator

	Conversations  conversation.Store
	Communications messaging.Repository
	Leads          lead.Repository
	Senders        map[messaging.Channel]messaging.Sender

	PollInterval time.Duration
	// StuckAfter bounds how long a claimed job may sit unacked before a
	// sweep returns it to the queue.
	StuckAfter time.Duration

	Log *slog.Logger
	Now func() time.Time
}

// LeadLocker serializes work per lead across worker processes.
type LeadLocker interface {
	// Acquire returns ok=false without blocking when the key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type TouchRunner interface {
	RunDue(ctx context.Context, executionID string) error
}

type IntakeHandler interface {
	HandleNewLead(ctx context.Context, req routing.IntakeRequest) (lead.Lead, routing.Decision, error)
}

type HandoverEvaluator interface {
	AfterMessage(ctx context.Context, leadID string, ch messaging.Channel) error
}

const (
	defaultPollInterval = time.Second
	defaultStuckAfter   = 5 * time.Minute
	defaultLockTTL      = 30 * time.Second
)

// TouchPayload is the body of a campaign_touch job.
type TouchPayload struct {
	ExecutionID string `json:"execution_id"`
}

// InboundPayload is the body of a handover job: an inbound message to apply
// before re-evaluating the conversation.
type InboundPayload struct {
	LeadID     string            `json:"lead_id"`
	Channel    messaging.Channel `json:"channel"`
	Content    string            `json:"content"`
	ReceivedAt time.Time         `json:"received_at"`
}

// SendPayload is the body of an email_send or sms_send job.
type SendPayload struct {
	LeadID    string `json:"lead_id"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	poll := w.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	stuckAfter := w.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	sweep := time.NewTicker(stuckAfter)
	defer sweep.Stop()

	w.log().Info("worker started", "poll_interval", poll.String())
	for {
		select {
		case <-ctx.Done():
			w.log().Info("worker stopped")
			return ctx.Err()
		case <-sweep.C:
			if n, err := w.Queue.RequeueStuck(ctx, w.now().Add(-stuckAfter)); err != nil {
				w.log().Error("requeue stuck failed", "err", err)
			} else if n > 0 {
				w.log().Warn("requeued stuck jobs", "count", n)
			}
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes every currently due job before going back to sleep.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		j, ok, err := w.Queue.Dequeue(ctx, w.now())
		if err != nil {
			w.log().Error("dequeue failed", "err", err)
			return
		}
		if !ok {
			return
		}
		w.Process(ctx, j)
	}
}

// Process runs one job to completion: ack on success or permanent failure,
// fail-with-backoff on transient errors, immediate unclaimed requeue when
// the lead lock is contended.
func (w *Worker) Process(ctx context.Context, j queue.Job) {
	log := w.log().With("job_id", j.ID, "job_type", string(j.Type), "key", j.Key)

	if j.Key != "" && w.Locks != nil {
		release, ok, err := w.Locks.Acquire(ctx, j.Key, defaultLockTTL)
		if err != nil {
			log.Error("lock acquire failed", "err", err)
			_ = w.Queue.Fail(ctx, j.ID, w.now().Add(5*time.Second))
			return
		}
		if !ok {
			// Another worker holds this lead; try again shortly.
			if err := w.Queue.Fail(ctx, j.ID, w.now().Add(time.Second)); err != nil {
				log.Error("requeue contended job failed", "err", err)
			}
			return
		}
		defer release()
	}

	err := w.handle(ctx, j)
	switch {
	case err == nil:
		if ackErr := w.Queue.Ack(ctx, j.ID); ackErr != nil {
			log.Error("ack failed", "err", ackErr)
		}
	case messaging.IsRetryable(err):
		retryAt := w.now().Add(backoff(j.Attempts))
		log.Warn("job failed, retrying", "err", err, "attempts", j.Attempts, "retry_at", retryAt)
		if failErr := w.Queue.Fail(ctx, j.ID, retryAt); failErr != nil {
			log.Error("fail requeue failed", "err", failErr)
		}
	default:
		// Permanent: drop the job, the failure is recorded downstream.
		log.Error("job failed permanently", "err", err)
		if ackErr := w.Queue.Ack(ctx, j.ID); ackErr != nil {
			log.Error("ack failed", "err", ackErr)
		}
	}
}

func backoff(attempts int) time.Duration {
	d := 10 * time.Second
	for i := 0; i < attempts && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

func (w *Worker) handle(ctx context.Context, j queue.Job) error {
	switch j.Type {
	case queue.TypeCampaignTouch:
		var p TouchPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return messaging.NewPermanentError("bad_payload", err)
		}
		return w.Touches.RunDue(ctx, p.ExecutionID)

	case queue.TypeLeadProcessing:
		var req routing.IntakeRequest
		if err := json.Unmarshal(j.Payload, &req); err != nil {
			return messaging.NewPermanentError("bad_payload", err)
		}
		_, _, err := w.Intake.HandleNewLead(ctx, req)
		if errors.Is(err, routing.ErrInvalidIntake) {
			return messaging.NewPermanentError("invalid_intake", err)
		}
		return err

	case queue.TypeHandover:
		var p InboundPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return messaging.NewPermanentError("bad_payload", err)
		}
		return w.applyInbound(ctx, p)

	case queue.TypeEmailSend:
		return w.directSend(ctx, j, messaging.ChannelEmail)
	case queue.TypeSMSSend:
		return w.directSend(ctx, j, messaging.ChannelSMS)
	}
	return messaging.NewPermanentError("unknown_job_type", fmt.Errorf("worker: job type %q", j.Type))
}

// applyInbound appends the lead's reply and re-evaluates handover criteria.
// Both steps tolerate replays: append on a terminal conversation no-ops, and
// the evaluator's firing path is guarded by CAS.
func (w *Worker) applyInbound(ctx context.Context, p InboundPayload) error {
	conv, err := w.Conversations.Ensure(ctx, p.LeadID, p.Channel)
	if err != nil {
		return err
	}
	err = w.Conversations.Append(ctx, conv.ID, conversation.Message{
		Role:      conversation.RoleLead,
		Content:   p.Content,
		Timestamp: p.ReceivedAt,
	})
	if err != nil && !errors.Is(err, conversation.ErrTerminal) {
		return err
	}

	if err := w.Communications.Append(ctx, messaging.Communication{
		ID:        uuid.NewString(),
		LeadID:    p.LeadID,
		Channel:   p.Channel,
		Direction: messaging.DirectionInbound,
		Content:   p.Content,
		Status:    messaging.DeliveryStatusDelivered,
		CreatedAt: p.ReceivedAt,
	}); err != nil {
		return err
	}

	if w.Evaluator != nil {
		return w.Evaluator.AfterMessage(ctx, p.LeadID, p.Channel)
	}
	return nil
}

func (w *Worker) directSend(ctx context.Context, j queue.Job, ch messaging.Channel) error {
	var p SendPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return messaging.NewPermanentError("bad_payload", err)
	}
	sender, ok := w.Senders[ch]
	if !ok {
		return messaging.NewPermanentError("no_sender", fmt.Errorf("worker: no sender for %s", ch))
	}

	res, err := sender.Send(ctx, messaging.SendRequest{
		Channel:   ch,
		Recipient: p.Recipient,
		Content:   p.Content,
		LeadID:    p.LeadID,
	})
	if err != nil {
		if !messaging.IsRetryable(err) && p.LeadID != "" && w.Leads != nil {
			_ = w.Leads.FlagForReview(ctx, p.LeadID)
		}
		return err
	}

	return w.Communications.Append(ctx, messaging.Communication{
		ID:         uuid.NewString(),
		LeadID:     p.LeadID,
		Channel:    ch,
		Direction:  messaging.DirectionOutbound,
		Content:    p.Content,
		ExternalID: res.ExternalID,
		Status:     res.Status,
		CreatedAt:  w.now().UTC(),
	})
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) log() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}
