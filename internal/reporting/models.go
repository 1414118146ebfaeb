package reporting

import (
	"time"

	"leadflow-platform/internal/messaging"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutreachSummaryRequest requests aggregated outreach metrics. A range is
// required; CampaignID is optional and narrows to one campaign.

type OutreachSummaryRequest struct {
	CampaignID string    `json:"campaign_id,omitempty"`
	Range      TimeRange `json:"range"`
}

type OutreachSummary struct {
	CampaignID string `json:"campaign_id,omitempty"`

	TotalExecutions      int `json:"total_executions"`
	ScheduledExecutions  int `json:"scheduled_executions"`
	ExecutingExecutions  int `json:"executing_executions"`
	CompletedExecutions  int `json:"completed_executions"`
	FailedExecutions     int `json:"failed_executions"`
	CancelledExecutions  int `json:"cancelled_executions"`
	SupersededExecutions int `json:"superseded_executions"`

	OutboundMessages int                       `json:"outbound_messages"`
	InboundMessages  int                       `json:"inbound_messages"`
	FailedDeliveries int                       `json:"failed_deliveries"`
	ByChannel        map[messaging.Channel]int `json:"by_channel"`

	LeadsContacted int `json:"leads_contacted"`
	LeadsReplied   int `json:"leads_replied"`
	Handovers      int `json:"handovers"`

	ReplyRate    float64 `json:"reply_rate"`
	HandoverRate float64 `json:"handover_rate"`
}
