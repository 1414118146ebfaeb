package routing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/lead"
)

// IntakeService is the synchronous entry point for new leads coming from the
// CRUD layer: persist the lead, decide the initial channel, and kick off the
// campaign's first touch.
type IntakeService struct {
	Engine    *Engine
	Leads     lead.Repository
	Campaigns campaign.Repository
	Scheduler TouchScheduler

	Now func() time.Time
}

// TouchScheduler is the minimal scheduling contract intake needs.
type TouchScheduler interface {
	ScheduleTouch(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (string, error)
}

func NewIntakeService(engine *Engine, leads lead.Repository, campaigns campaign.Repository, sched TouchScheduler) *IntakeService {
	return &IntakeService{Engine: engine, Leads: leads, Campaigns: campaigns, Scheduler: sched, Now: time.Now}
}

type IntakeRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	CampaignID string `json:"campaign_id"`
}

var (
	ErrInvalidIntake = errors.New("routing: name and campaign_id required")
)

// HandleNewLead runs intake end to end and returns the routing decision.
//
// A rejected decision still persists the lead (status stays new) so the CRUD
// layer can surface it for manual contact-data fixes.
func (s *IntakeService) HandleNewLead(ctx context.Context, req IntakeRequest) (lead.Lead, Decision, error) {
	if req.Name == "" || req.CampaignID == "" {
		return lead.Lead{}, Decision{}, ErrInvalidIntake
	}

	camp, err := s.Campaigns.Get(ctx, req.CampaignID)
	if err != nil {
		return lead.Lead{}, Decision{}, err
	}

	l := lead.Lead{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		CampaignID: camp.ID,
		Status:     lead.StatusNew,
	}
	if err := s.Leads.Create(ctx, l); err != nil {
		return lead.Lead{}, Decision{}, err
	}

	d, err := s.Engine.Decide(ctx, l, camp)
	if err != nil {
		return lead.Lead{}, Decision{}, err
	}
	if d.Action != ActionAssignChannel {
		return l, d, nil
	}

	if err := s.Leads.UpdateStatus(ctx, l.ID, lead.StatusNew, lead.StatusContacted); err != nil {
		return lead.Lead{}, Decision{}, err
	}
	l.Status = lead.StatusContacted

	if len(camp.TouchSequence) > 0 && s.Scheduler != nil {
		first := camp.TouchSequence[0]
		at := s.now().Add(first.Delay())
		if _, err := s.Scheduler.ScheduleTouch(ctx, camp.ID, l.ID, first.TemplateID, at); err != nil {
			return lead.Lead{}, Decision{}, err
		}
	}
	return l, d, nil
}

// Match runs the decision engine without persisting anything. It backs the
// legacy lead-distribution dry-run path (Test_Lead posts).
func (s *IntakeService) Match(ctx context.Context, req IntakeRequest) (Decision, error) {
	if req.Name == "" || req.CampaignID == "" {
		return Decision{}, ErrInvalidIntake
	}
	camp, err := s.Campaigns.Get(ctx, req.CampaignID)
	if err != nil {
		return Decision{}, err
	}
	l := lead.Lead{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		CampaignID: camp.ID,
	}
	return s.Engine.Decide(ctx, l, camp)
}

func (s *IntakeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
