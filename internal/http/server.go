package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/config"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/http/middleware"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	workspacesRepo := repository.NewWorkspacesRepository(mysqlDB)
	campaignsRepo := repository.NewCampaignsRepository(mysqlDB)
	stepsRepo := repository.NewStepsRepository(mysqlDB)
	enrollmentsRepo := repository.NewEnrollmentsRepository(mysqlDB)
	leadsRepo := repository.NewLeadsRepository(mysqlDB)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	subscriptionsRepo := repository.NewSubscriptionsRepository(mysqlDB)
	ledgerRepo := repository.NewLedgerRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// services
	emitter := event.NewEmitter(mysqlDB, eventsRepo, outboxRepo)
	campaignSvc := campaign.NewService(
		mysqlDB,
		campaignsRepo,
		stepsRepo,
		enrollmentsRepo,
		leadsRepo,
		emitter,
	)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(workspacesRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ws:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/campaigns", createCampaignHandler(campaignsRepo))
	v1.GET("/campaigns/:id", getCampaignHandler(campaignsRepo, stepsRepo))
	v1.PATCH("/campaigns/:id/status", transitionCampaignHandler(campaignSvc))
	v1.DELETE("/campaigns/:id", deleteCampaignHandler(campaignSvc))
	v1.POST("/campaigns/:id/steps", addStepHandler(campaignsRepo, stepsRepo))
	v1.DELETE("/campaigns/:id/steps/:order", deleteStepHandler(campaignsRepo, stepsRepo))
	v1.POST("/campaigns/:id/enrollments", enrollHandler(campaignSvc))
	v1.DELETE("/enrollments/:enrollment_id", unenrollHandler(campaignSvc))
	v1.GET("/credits", creditsHandler(workspacesRepo, ledgerRepo))
	v1.POST("/webhook-subscriptions", createSubscriptionHandler(subscriptionsRepo))
	v1.GET("/webhook-subscriptions", listSubscriptionsHandler(subscriptionsRepo))
	v1.PATCH("/webhook-subscriptions/:id", setSubscriptionActiveHandler(subscriptionsRepo))
	v1.GET("/reports/deliveries", listDeliveriesHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
