package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/config"
	"github.com/outreachd/campaign-engine/internal/db"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/logger"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/retry"
	"github.com/outreachd/campaign-engine/internal/scheduler"
	"github.com/outreachd/campaign-engine/internal/sendprovider"
	"github.com/outreachd/campaign-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the sequence scheduler (due step execution)",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init("info")
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories
	workspacesRepo := repository.NewWorkspacesRepository(dbx)
	campaignsRepo := repository.NewCampaignsRepository(dbx)
	stepsRepo := repository.NewStepsRepository(dbx)
	enrollmentsRepo := repository.NewEnrollmentsRepository(dbx)
	leadsRepo := repository.NewLeadsRepository(dbx)
	eventsRepo := repository.NewEventsRepository(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx)
	ledgerRepo := repository.NewLedgerRepository(dbx)

	// 4) providers → pool
	var provs []sendprovider.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			sendprovider.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return fmt.Errorf("no providers enabled in config")
	}
	pool := sendprovider.NewPool(provs)

	// 5) services
	emitter := event.NewEmitter(dbx, eventsRepo, outboxRepo)
	campaignSvc := campaign.NewService(dbx, campaignsRepo, stepsRepo, enrollmentsRepo, leadsRepo, emitter)

	sendExec := retry.Executor{
		MaxAttempts:       cfg.Scheduler.Send.MaxAttempts,
		Delays:            msDelays(cfg.Scheduler.Send.BackoffMs),
		PerAttemptTimeout: time.Duration(cfg.Scheduler.Send.AttemptTimeoutMs) * time.Millisecond,
	}
	svc := scheduler.NewService(
		dbx,
		campaignSvc,
		enrollmentsRepo,
		stepsRepo,
		leadsRepo,
		workspacesRepo,
		ledgerRepo,
		emitter,
		pool,
		scheduler.Opts{
			BatchSize:       cfg.Scheduler.BatchSize,
			RecheckInterval: cfg.Scheduler.RecheckInterval,
			DeferBackoff:    cfg.Scheduler.DeferBackoff,
			ClaimTTL:        cfg.Scheduler.ClaimTTL,
			SendExec:        sendExec,
		},
	)

	loop := worker.NewSchedulerLoop(svc, cfg.Scheduler.TickInterval)

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> scheduler started interval=%s batchSize=%d", loop.Interval, svc.BatchSize)

	return loop.Run(ctx)
}

func msDelays(ms []int) []time.Duration {
	out := make([]time.Duration, 0, len(ms))
	for _, m := range ms {
		out = append(out, time.Duration(m)*time.Millisecond)
	}
	return out
}
