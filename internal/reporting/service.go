package reporting

import (
	"context"
	"errors"
	"time"

	"leadflow-platform/internal/handover"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/scheduler"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (the
// communication trail, handover records, execution history).
type Repository interface {
	ListExecutions(ctx context.Context, campaignID string, from, to time.Time) ([]scheduler.Execution, error)
	ListCommunications(ctx context.Context, from, to time.Time) ([]messaging.Communication, error)
	ListHandovers(ctx context.Context, campaignID string, from, to time.Time) ([]handover.Record, error)
}

// StoreRepo implements Repository over the domain stores.
type StoreRepo struct {
	Executions     scheduler.Repository
	Communications messaging.Repository
	Handovers      handover.Repository
}

func (r StoreRepo) ListExecutions(ctx context.Context, campaignID string, from, to time.Time) ([]scheduler.Execution, error) {
	return r.Executions.ListByWindow(ctx, campaignID, from, to)
}

func (r StoreRepo) ListCommunications(ctx context.Context, from, to time.Time) ([]messaging.Communication, error) {
	return r.Communications.ListWindow(ctx, from, to)
}

func (r StoreRepo) ListHandovers(ctx context.Context, campaignID string, from, to time.Time) ([]handover.Record, error) {
	return r.Handovers.ListWindow(ctx, campaignID, from, to)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// OutreachSummary aggregates execution, message and handover activity for a
// time window. When the request names a campaign, messages are narrowed to
// the leads that campaign touched in the window.
func (s *Service) OutreachSummary(ctx context.Context, req OutreachSummaryRequest) (OutreachSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return OutreachSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return OutreachSummary{}, errors.New("reporting: repository not configured")
	}

	execs, err := s.repo.ListExecutions(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return OutreachSummary{}, err
	}
	comms, err := s.repo.ListCommunications(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return OutreachSummary{}, err
	}
	handovers, err := s.repo.ListHandovers(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return OutreachSummary{}, err
	}

	out := OutreachSummary{
		CampaignID: req.CampaignID,
		ByChannel:  map[messaging.Channel]int{},
	}

	campaignLeads := map[string]bool{}
	contacted := map[string]bool{}
	for _, e := range execs {
		out.TotalExecutions++
		campaignLeads[e.LeadID] = true
		if e.Superseded {
			out.SupersededExecutions++
		}
		switch e.Status {
		case scheduler.StatusScheduled:
			out.ScheduledExecutions++
		case scheduler.StatusExecuting:
			out.ExecutingExecutions++
		case scheduler.StatusCompleted:
			out.CompletedExecutions++
			contacted[e.LeadID] = true
		case scheduler.StatusFailed:
			out.FailedExecutions++
		case scheduler.StatusCancelled:
			out.CancelledExecutions++
		}
	}
	out.LeadsContacted = len(contacted)

	replied := map[string]bool{}
	for _, c := range comms {
		if req.CampaignID != "" && !campaignLeads[c.LeadID] {
			continue
		}
		out.ByChannel[c.Channel]++
		switch c.Direction {
		case messaging.DirectionInbound:
			out.InboundMessages++
			replied[c.LeadID] = true
		case messaging.DirectionOutbound:
			out.OutboundMessages++
			if c.Status == messaging.DeliveryStatusFailed {
				out.FailedDeliveries++
			}
		}
	}
	out.LeadsReplied = len(replied)
	out.Handovers = len(handovers)

	if out.LeadsContacted > 0 {
		out.ReplyRate = float64(out.LeadsReplied) / float64(out.LeadsContacted)
		out.HandoverRate = float64(out.Handovers) / float64(out.LeadsContacted)
	}
	return out, nil
}
