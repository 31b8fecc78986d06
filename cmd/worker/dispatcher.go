package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outreachd/campaign-engine/internal/config"
	"github.com/outreachd/campaign-engine/internal/db"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/kafka"
	"github.com/outreachd/campaign-engine/internal/logger"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/webhook"
	"github.com/outreachd/campaign-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run the webhook dispatcher (domain event fan-out)",
	RunE:  runDispatcher,
}

func runDispatcher(cmd *cobra.Command, args []string) error {
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
	subscriptionsRepo := repository.NewSubscriptionsRepository(dbx)
	deliveriesRepo := repository.NewDeliveriesRepository(dbx)

	// 4) signed delivery client → dispatcher
	client := webhook.NewClient(webhook.ClientOpts{
		Timeout:     time.Duration(cfg.Webhook.TimeoutMs) * time.Millisecond,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Backoff:     msDelays(cfg.Webhook.BackoffMs),
	})
	disp := webhook.NewDispatcher(subscriptionsRepo, deliveriesRepo, client)
	if cfg.Webhook.MaxConcurrent > 0 {
		disp.MaxConcurrent = cfg.Webhook.MaxConcurrent
	}

	// 5) kafka consumer on the outbox relay topic
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "campd-dispatcher"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          event.DomainTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewDispatcherKafka(consumer, disp)

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dispatcher started topic=%s group=%s workers=%d", event.DomainTopic, groupID, w.Workers)

	return w.Run(ctx)
}
