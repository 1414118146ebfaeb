package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"leadflow-platform/internal/agent"
	"leadflow-platform/internal/audit"
	"leadflow-platform/internal/campaign"
	"leadflow-platform/internal/config"
	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/coordination"
	"leadflow-platform/internal/handover"
	"leadflow-platform/internal/lead"
	"leadflow-platform/internal/messaging"
	"leadflow-platform/internal/queue"
	"leadflow-platform/internal/routing"
	"leadflow-platform/internal/scheduler"
	"leadflow-platform/internal/worker"
	"leadflow-platform/pkg/logger"
	"leadflow-platform/pkg/utils"

	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

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

	// Same Postgres-backed stores as the api process: a lead accepted over
	// HTTP must be visible to the touch jobs that run here.
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

	w := &worker.Worker{
		Queue:          jobs,
		Locks:          &worker.RedisLocker{Rdb: rdb},
		Touches:        sched,
		Intake:         intake,
		Evaluator:      evaluator,
		Conversations:  conversations,
		Communications: communications,
		Leads:          leads,
		Senders:        router.Senders(),
		PollInterval:   cfg.Worker.PollInterval,
		StuckAfter:     cfg.Worker.StuckAfter,
		Log:            log,
	}

	log.Info("worker starting", "env", cfg.App.Env)
	if err := w.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "err", err)
		os.Exit(1)
	}
	log.Info("worker shut down")
}
