package main

import (
	"leadflow-platform/internal/boberdoo"
	"leadflow-platform/internal/httpapi"
	"leadflow-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, legacy boberdoo.Handler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature validation in production.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/message", h.InboundMessage)
		webhooks.POST("/delivery", h.DeliveryStatus)
	}

	// Legacy lead-distribution endpoint (public; buyers authenticate by
	// source key inside the form, validated upstream).
	r.POST("/v1/boberdoo/lead", legacy.PostLead)

	// AUTH routes (token issuance).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireWorkspace())
	{
		// LEADS
		leads := v1.Group("/leads")
		leads.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAgentSupervisor))
		{
			leads.POST("/intake", h.IntakeLead)
		}

		// EXECUTIONS
		executions := v1.Group("/executions")
		executions.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAgentSupervisor))
		{
			executions.GET("/:execution_id", h.GetExecution)
			executions.DELETE("/:execution_id", h.CancelExecution)
		}

		// ADMIN routes
		// Only owner/operator may touch the queue.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			admin.GET("/queue/paused", h.PausedQueues)
			admin.POST("/queue/:job_type/pause", h.PauseQueue)
			admin.POST("/queue/:job_type/resume", h.ResumeQueue)
			admin.POST("/queue/:job_type/purge", h.PurgeQueue)
			admin.POST("/queue/retry-stuck", h.RetryStuck)
			admin.GET("/reports/outreach", h.OutreachReport)
		}
	}
}
