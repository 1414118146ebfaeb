package boberdoo

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leadflow-platform/internal/billing"
	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/routing"
)

// Legacy lead-distribution endpoint, XML over HTTP form posts.
//
// Buyers post leads with Src/Campaign fields; the response reports whether
// the lead was accepted and which buyer matched. A Test_Lead=1 flag or the
// sentinel ZIP 99999 runs the matching logic without persisting anything,
// which is how partners validate their field mapping before going live.

// TestZIP is the sentinel ZIP code for dry-run posts.
const TestZIP = "99999"

const (
	StatusAccepted  = "accepted"
	StatusMatched   = "matched"
	StatusUnmatched = "unmatched"
	StatusError     = "error"
)

type Response struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status"`
	LeadID  string   `xml:"lead_id,omitempty"`
	BuyerID string   `xml:"buyer_id,omitempty"`
	Price   string   `xml:"price,omitempty"`
	Message string   `xml:"message,omitempty"`
}

// Intake is the slice of the routing layer the handler needs.
type Intake interface {
	HandleNewLead(ctx context.Context, req routing.IntakeRequest) (lead.Lead, routing.Decision, error)
	Match(ctx context.Context, req routing.IntakeRequest) (routing.Decision, error)
}

// LeadCharger posts the per-lead charge to the buyer's billing account.
type LeadCharger interface {
	ChargeLead(ctx context.Context, accountID, leadID string, amountMinor int64, currency string) (billing.LedgerEntry, billing.Balance, error)
}

type Handler struct {
	Intake    Intake
	Campaigns campaign.Repository

	// Billing is optional. When set, accepted leads are charged to the
	// campaign's buyer account.
	Billing LeadCharger
	Log     *slog.Logger
}

// PostLead handles POST /v1/boberdoo/lead.
func (h Handler) PostLead(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("First_Name") + " " + c.PostForm("Last_Name"))
	req := routing.IntakeRequest{
		Name:       name,
		Email:      strings.TrimSpace(c.PostForm("Email")),
		Phone:      strings.TrimSpace(c.PostForm("Phone")),
		CampaignID: strings.TrimSpace(c.PostForm("Campaign_ID")),
	}
	zip := strings.TrimSpace(c.PostForm("Zip"))
	testLead := c.PostForm("Test_Lead") == "1" || zip == TestZIP

	if req.Name == "" || req.CampaignID == "" {
		c.XML(http.StatusBadRequest, Response{
			Status:  StatusError,
			Message: "First_Name/Last_Name and Campaign_ID required",
		})
		return
	}

	camp, err := h.Campaigns.Get(c.Request.Context(), req.CampaignID)
	if err != nil {
		c.XML(http.StatusOK, Response{Status: StatusUnmatched, Message: "unknown campaign"})
		return
	}

	if testLead {
		decision, err := h.Intake.Match(c.Request.Context(), req)
		if err != nil {
			c.XML(http.StatusOK, Response{Status: StatusError, Message: err.Error()})
			return
		}
		if decision.Action != routing.ActionAssignChannel {
			c.XML(http.StatusOK, Response{Status: StatusUnmatched})
			return
		}
		c.XML(http.StatusOK, Response{
			Status:  StatusMatched,
			BuyerID: camp.BuyerID,
			Price:   priceString(camp.LeadPriceCents),
		})
		return
	}

	l, decision, err := h.Intake.HandleNewLead(c.Request.Context(), req)
	if err != nil {
		c.XML(http.StatusOK, Response{Status: StatusError, Message: err.Error()})
		return
	}
	if decision.Action != routing.ActionAssignChannel {
		// Persisted but no viable channel; operators follow up manually.
		c.XML(http.StatusOK, Response{Status: StatusUnmatched, LeadID: l.ID})
		return
	}
	h.chargeBuyer(c.Request.Context(), camp, l.ID)
	c.XML(http.StatusOK, Response{
		Status:  StatusAccepted,
		LeadID:  l.ID,
		BuyerID: camp.BuyerID,
		Price:   priceString(camp.LeadPriceCents),
	})
}

// chargeBuyer bills the buyer for an accepted lead. The charge is keyed by
// lead ID so a retried post cannot double-bill. A billing failure does not
// fail the intake; the lead is already persisted and billing reconciles from
// the ledger later.
func (h Handler) chargeBuyer(ctx context.Context, camp campaign.Campaign, leadID string) {
	if h.Billing == nil || camp.BuyerID == "" || camp.LeadPriceCents <= 0 {
		return
	}
	if _, _, err := h.Billing.ChargeLead(ctx, camp.BuyerID, leadID, camp.LeadPriceCents, "USD"); err != nil {
		if h.Log != nil {
			h.Log.Error("lead charge failed",
				"lead_id", leadID,
				"buyer_id", camp.BuyerID,
				"error", err)
		}
	}
}

func priceString(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
