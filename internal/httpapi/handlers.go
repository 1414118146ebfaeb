package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"leadflow-platform/internal/audit"
	"leadflow-platform/internal/auth"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/queue"
	"leadflow-platform/internal/reporting"
	"leadflow-platform/internal/routing"
	"leadflow-platform/internal/scheduler"
	"leadflow-platform/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth   *auth.Manager
	Intake *routing.IntakeService

	Scheduler  *scheduler.Service
	Executions scheduler.Repository

	Queue          queue.Queue
	Communications messaging.Repository
	Reports        *reporting.Service
	Audit          *audit.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Lead intake ---

// IntakeLead handles POST /v1/leads/intake: persist the lead, pick its
// initial channel, and schedule the campaign's first touch.
func (h Handlers) IntakeLead(c *gin.Context) {
	if h.Intake == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "intake not configured"})
		return
	}
	var req routing.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	l, decision, err := h.Intake.HandleNewLead(c.Request.Context(), req)
	if errors.Is(err, routing.ErrInvalidIntake) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lead": l, "decision": decision})
}

// --- Webhooks ---

// InboundMessage handles provider posts of lead replies. The message is
// queued for the worker so per-lead ordering holds even under webhook
// retries.
func (h Handlers) InboundMessage(c *gin.Context) {
	form, err := messaging.ParseInboundMessage(c.Request, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := json.Marshal(worker.InboundPayload{
		LeadID:     form.LeadID,
		Channel:    form.Channel,
		Content:    form.Content,
		ReceivedAt: form.ReceivedAt,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	job := queue.Job{
		ID:      uuid.NewString(),
		Type:    queue.TypeHandover,
		Key:     form.LeadID,
		Payload: payload,
		RunAt:   h.now(),
	}
	if err := h.Queue.Enqueue(c.Request.Context(), job); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// DeliveryStatus applies a provider delivery receipt to the matching
// communication record.
func (h Handlers) DeliveryStatus(c *gin.Context) {
	form, err := messaging.ParseDeliveryStatus(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.Communications.UpdateStatusByExternalID(c.Request.Context(), form.ExternalID, form.Status)
	if errors.Is(err, messaging.ErrNotFound) {
		// Receipts can outrun the send's own write; providers retry.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown external_id"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Executions ---

func (h Handlers) GetExecution(c *gin.Context) {
	id := c.Param("execution_id")
	e, err := h.Executions.Get(c.Request.Context(), id)
	if errors.Is(err, scheduler.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// CancelExecution handles DELETE /v1/executions/:execution_id. Cancelling a
// terminal execution reports cancelled=false rather than an error.
func (h Handlers) CancelExecution(c *gin.Context) {
	id := c.Param("execution_id")
	ok, err := h.Scheduler.CancelExecution(c.Request.Context(), id)
	if errors.Is(err, scheduler.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": ok})
}

// --- Queue admin ---

func (h Handlers) PauseQueue(c *gin.Context) {
	h.queueToggle(c, "pause", h.Queue.Pause)
}

func (h Handlers) ResumeQueue(c *gin.Context) {
	h.queueToggle(c, "resume", h.Queue.Resume)
}

func (h Handlers) queueToggle(c *gin.Context, action string, fn func(ctx context.Context, t queue.JobType) error) {
	t := queue.JobType(c.Param("job_type"))
	if !t.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown job type"})
		return
	}
	if err := fn(c.Request.Context(), t); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": action + " failed"})
		return
	}
	h.auditQueueAdmin(c, action+" "+string(t))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) PausedQueues(c *gin.Context) {
	types, err := h.Queue.Paused(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": types})
}

type retryStuckRequest struct {
	// OlderThanSeconds bounds which claimed jobs count as stuck.
	OlderThanSeconds int `json:"older_than_seconds"`
}

// RetryStuck returns jobs stuck in processing to the queue.
func (h Handlers) RetryStuck(c *gin.Context) {
	var req retryStuckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OlderThanSeconds <= 0 {
		req.OlderThanSeconds = 300
	}
	cutoff := h.now().Add(-time.Duration(req.OlderThanSeconds) * time.Second)
	n, err := h.Queue.RequeueStuck(c.Request.Context(), cutoff)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	h.auditQueueAdmin(c, "retry stuck")
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

func (h Handlers) PurgeQueue(c *gin.Context) {
	t := queue.JobType(c.Param("job_type"))
	if !t.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown job type"})
		return
	}
	n, err := h.Queue.Purge(c.Request.Context(), t)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	h.auditQueueAdmin(c, "purge "+string(t))
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// --- Reporting ---

// OutreachReport returns aggregated outreach metrics for a time window.
// Query params: campaign_id (optional), from/to (RFC 3339, default
// trailing 7 days).
func (h Handlers) OutreachReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	req := reporting.OutreachSummaryRequest{
		CampaignID: c.Query("campaign_id"),
		Range: reporting.TimeRange{
			From: h.now().Add(-7 * 24 * time.Hour),
			To:   h.now(),
		},
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		req.Range.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		req.Range.To = t
	}

	summary, err := h.Reports.OutreachSummary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h Handlers) auditQueueAdmin(c *gin.Context, action string) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogQueueAdmin(c.Request.Context(), userID, role, action, "")
}
