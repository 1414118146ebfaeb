package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"leadflow-platform/internal/audit"
	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/handover"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/queue"
	"leadflow-platform/internal/reporting"
	"leadflow-platform/internal/routing"
	"leadflow-platform/internal/scheduler"
)

type stubTouchScheduler struct {
	scheduled []string // "campaignID/leadID/templateID"
}

func (s *stubTouchScheduler) ScheduleTouch(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (string, error) {
	s.scheduled = append(s.scheduled, campaignID+"/"+leadID+"/"+templateID)
	return "exec-1", nil
}

type fixture struct {
	handlers Handlers
	queue    *queue.MemoryQueue
	comms    *messaging.MemoryRepo
	execs    *scheduler.MemoryRepo
	touches  *stubTouchScheduler
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	leads := lead.NewMemoryRepo()
	campaigns := campaign.NewMemoryRepo()
	err := campaigns.Put(context.Background(), campaign.Campaign{
		ID:                 "camp-1",
		Name:               "solar-leads",
		TouchSequence:      []campaign.TouchStep{{TemplateID: "intro"}},
		ChannelPreferences: []messaging.Channel{messaging.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("put campaign: %v", err)
	}

	auditLog := audit.NewService(audit.NewMemoryRepo())
	touches := &stubTouchScheduler{}
	intake := routing.NewIntakeService(&routing.Engine{Audit: auditLog}, leads, campaigns, touches)
	intake.Now = func() time.Time { return now }

	execs := scheduler.NewMemoryRepo()
	comms := messaging.NewMemoryRepo()
	jobs := queue.NewMemoryQueue()

	reports := reporting.NewService(reporting.StoreRepo{
		Executions:     execs,
		Communications: comms,
		Handovers:      handover.NewMemoryRepo(),
	})

	h := Handlers{
		Intake:         intake,
		Scheduler:      &scheduler.Service{Repo: execs},
		Executions:     execs,
		Queue:          jobs,
		Communications: comms,
		Reports:        reports,
		Audit:          auditLog,
		Now:            func() time.Time { return now },
	}
	return &fixture{handlers: h, queue: jobs, comms: comms, execs: execs, touches: touches, now: now}
}

func (f *fixture) router() *gin.Engine {
	r := gin.New()
	r.POST("/v1/leads/intake", f.handlers.IntakeLead)
	r.POST("/webhooks/message", f.handlers.InboundMessage)
	r.POST("/webhooks/delivery", f.handlers.DeliveryStatus)
	r.GET("/v1/executions/:execution_id", f.handlers.GetExecution)
	r.DELETE("/v1/executions/:execution_id", f.handlers.CancelExecution)
	r.GET("/v1/admin/reports/outreach", f.handlers.OutreachReport)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad json %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func doForm(t *testing.T, r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIntakeLead(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	w, body := doJSON(t, r, http.MethodPost, "/v1/leads/intake",
		`{"name":"Dana Reyes","email":"dana@example.com","campaign_id":"camp-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %v", w.Code, body)
	}
	if len(f.touches.scheduled) != 1 || !strings.HasPrefix(f.touches.scheduled[0], "camp-1/") {
		t.Fatalf("scheduled = %v", f.touches.scheduled)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/leads/intake", `{"email":"x@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: code = %d", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/leads/intake", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: code = %d", w.Code)
	}
}

func TestInboundMessageEnqueues(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	w := doForm(t, r, "/webhooks/message", url.Values{
		"lead_id": {"lead-1"},
		"channel": {"sms"},
		"content": {"tell me more"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}

	job, ok, err := f.queue.Dequeue(context.Background(), f.now)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if job.Type != queue.TypeHandover || job.Key != "lead-1" {
		t.Fatalf("job = %+v", job)
	}

	w = doForm(t, r, "/webhooks/message", url.Values{"channel": {"sms"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad form: code = %d", w.Code)
	}
}

func TestDeliveryStatusAppliesReceipt(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	err := f.comms.Append(context.Background(), messaging.Communication{
		ID:         "c-1",
		LeadID:     "lead-1",
		Channel:    messaging.ChannelEmail,
		Direction:  messaging.DirectionOutbound,
		ExternalID: "ext-1",
		Status:     messaging.DeliveryStatusSent,
		CreatedAt:  f.now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	w := doForm(t, r, "/webhooks/delivery", url.Values{
		"external_id": {"ext-1"},
		"status":      {"delivered"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	got, _ := f.comms.ListByLead(context.Background(), "lead-1")
	if len(got) != 1 || got[0].Status != messaging.DeliveryStatusDelivered {
		t.Fatalf("communications = %+v", got)
	}

	w = doForm(t, r, "/webhooks/delivery", url.Values{
		"external_id": {"ext-nope"},
		"status":      {"delivered"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown receipt: code = %d", w.Code)
	}
}

func TestExecutionEndpoints(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	err := f.execs.Create(context.Background(), scheduler.Execution{
		ID:           "ex-1",
		CampaignID:   "camp-1",
		LeadID:       "lead-1",
		TemplateID:   "intro",
		ScheduledFor: f.now,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	w, body := doJSON(t, r, http.MethodGet, "/v1/executions/ex-1", "")
	if w.Code != http.StatusOK || body["id"] != "ex-1" {
		t.Fatalf("get: code=%d body=%v", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/executions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing execution: code = %d", w.Code)
	}

	w, body = doJSON(t, r, http.MethodDelete, "/v1/executions/ex-1", "")
	if w.Code != http.StatusOK || body["cancelled"] != true {
		t.Fatalf("cancel: code=%d body=%v", w.Code, body)
	}

	// Second cancel is a no-op, not an error.
	w, body = doJSON(t, r, http.MethodDelete, "/v1/executions/ex-1", "")
	if w.Code != http.StatusOK || body["cancelled"] != false {
		t.Fatalf("repeat cancel: code=%d body=%v", w.Code, body)
	}
}

func TestOutreachReportEndpoint(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	err := f.execs.Create(context.Background(), scheduler.Execution{
		ID:           "ex-1",
		CampaignID:   "camp-1",
		LeadID:       "lead-1",
		TemplateID:   "intro",
		ScheduledFor: f.now,
		Status:       scheduler.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	// The memory repo stamps created_at with wall time, so query an
	// explicit window around it.
	from := url.QueryEscape(time.Now().UTC().Add(-time.Hour).Format(time.RFC3339))
	to := url.QueryEscape(time.Now().UTC().Add(time.Hour).Format(time.RFC3339))
	w, body := doJSON(t, r, http.MethodGet,
		"/v1/admin/reports/outreach?campaign_id=camp-1&from="+from+"&to="+to, "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %v", w.Code, body)
	}
	if body["total_executions"] != float64(1) || body["completed_executions"] != float64(1) {
		t.Fatalf("body = %v", body)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/admin/reports/outreach?from=not-a-time", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: code = %d", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodGet,
		"/v1/admin/reports/outreach?from=2026-04-02T00:00:00Z&to=2026-04-01T00:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: code = %d", w.Code)
	}
}
