package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow-platform/internal/agent"
	"leadflow-platform/internal/audit"
	"leadflow-platform/internal/auth"
	"leadflow-platform/internal/billing"
	"leadflow-platform/internal/boberdoo"
	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/config"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/coordination"
	"leadflow-platform/internal/handover"
	"leadflow-platform/internal/httpapi"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/queue"
	"leadflow-platform/internal/reporting"
	"leadflow-platform/internal/routing"
	"leadflow-platform/internal/scheduler"
	"leadflow-platform/internal/worker"
	"leadflow-platform/pkg/logger"
	"leadflow-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local convenience; real environments set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores. Domain state lives in Postgres so the api and worker
	// processes see the same leads, conversations and handovers; the job
	// queue lives in Redis.
	leads := lead.NewPostgresRepo(db)
	campaigns := campaign.NewPostgresRepo(db)
	conversations := conversation.NewPostgresStore(db)
	communications := messaging.NewPostgresRepo(db)
	handovers := handover.NewPostgresRepo(db)
	executions := scheduler.NewPostgresRepo(db)
	jobs := queue.NewRedisQueue(rdb, cfg.Worker.QueuePrefix)
	auditLog := audit.NewService(audit.NewMemoryRepo())

	router := messaging.NewRouter()
	router.Register(messaging.ChannelEmail, &messaging.LogSender{Channel: messaging.ChannelEmail, Log: log})
	router.Register(messaging.ChannelSMS, &messaging.LogSender{Channel: messaging.ChannelSMS, Log: log})
	router.Register(messaging.ChannelChat, &messaging.LogSender{Channel: messaging.ChannelChat, Log: log})

	var composer scheduler.ContentComposer
	if cfg.OpenAI.APIKey != "" {
		composer = agent.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	} else {
		composer = agent.NewTemplateGenerator()
	}

	coordinator := &coordination.Coordinator{
		Campaigns: campaigns,
		Leads:     leads,
		Touches:   conversations,
		Turns:     coordination.NewMemoryTurnStore(),
	}

	sched := &scheduler.Service{
		Repo:           executions,
		Campaigns:      campaigns,
		Leads:          leads,
		Coordinator:    coordinator,
		Sender:         messaging.TimeoutSender{Inner: router},
		Communications: communications,
		Conversations:  conversations,
		Composer:       composer,
		Log:            log,
	}
	sched.Enqueue = worker.TouchEnqueuer(jobs)

	evaluator := &handover.Evaluator{
		Conversations: conversations,
		Campaigns:     campaigns,
		Leads:         leads,
		Records:       handovers,
		Scorer:        handover.NewKeywordScorer(),
		Executions:    sched,
		Audit:         auditLog,
		Log:           log,
	}
	sched.Evaluator = evaluator

	engine := &routing.Engine{Audit: auditLog}
	intake := routing.NewIntakeService(engine, leads, campaigns, sched)

	reports := reporting.NewService(reporting.StoreRepo{
		Executions:     executions,
		Communications: communications,
		Handovers:      handovers,
	})

	handlers := httpapi.Handlers{
		Auth:           authManager,
		Intake:         intake,
		Scheduler:      sched,
		Executions:     executions,
		Queue:          jobs,
		Communications: communications,
		Reports:        reports,
		Audit:          auditLog,
	}
	legacy := boberdoo.Handler{
		Intake:    intake,
		Campaigns: campaigns,
		Billing:   billing.NewService(db),
		Log:       log,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, legacy, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
