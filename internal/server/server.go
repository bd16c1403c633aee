// Package server exposes the mediation API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/airgate-io/airgate/internal/audit"
	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	"github.com/airgate-io/airgate/internal/cache"
	"github.com/airgate-io/airgate/internal/config"
	"github.com/airgate-io/airgate/internal/label"
	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	"github.com/airgate-io/airgate/internal/observability"
	obsmiddleware "github.com/airgate-io/airgate/internal/observability/logger"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	obstracing "github.com/airgate-io/airgate/internal/observability/tracing"
	"github.com/airgate-io/airgate/internal/ratelimit"
	"github.com/airgate-io/airgate/internal/rollup"
	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	"github.com/airgate-io/airgate/internal/sim"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/usage"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/airgate-io/airgate/internal/webhook"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(cache.NewSimResolverCache),
	audit.Module,
	sim.Module,
	label.Module,
	usage.Module,
	rollup.Module,
	webhook.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	genID     *snowflake.Node
	simSvc    simdomain.Service
	labelSvc  labeldomain.Service
	usageSvc  usagedomain.Service
	rollupSvc rollupdomain.Service
	registry  webhookdomain.Registry
	auditSvc  auditdomain.Service
	limiter   *ratelimit.IngestLimiter
	metrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	GenID     *snowflake.Node
	SimSvc    simdomain.Service
	LabelSvc  labeldomain.Service
	UsageSvc  usagedomain.Service
	RollupSvc rollupdomain.Service
	Registry  webhookdomain.Registry
	AuditSvc  auditdomain.Service
	Limiter   *ratelimit.IngestLimiter `optional:"true"`
	Metrics   *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		genID:     p.GenID,
		simSvc:    p.SimSvc,
		labelSvc:  p.LabelSvc,
		usageSvc:  p.UsageSvc,
		rollupSvc: p.RollupSvc,
		registry:  p.Registry,
		auditSvc:  p.AuditSvc,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.TenantContext())

	sims := api.Group("/sims")
	sims.Use(func(c *gin.Context) {
		if id := c.Param("sim_id"); id != "" {
			c.Set("sim_id", id)
		}
		c.Next()
	})
	{
		sims.POST("", s.CreateSim)
		sims.GET("", s.ListSims)
		sims.GET("/:sim_id", s.GetSim)
		sims.POST("/:sim_id/activate", s.transitionHandler(simdomain.SimStateActive))
		sims.POST("/:sim_id/suspend", s.transitionHandler(simdomain.SimStateSuspended))
		sims.POST("/:sim_id/block", s.transitionHandler(simdomain.SimStateBlocked))
		sims.POST("/:sim_id/unblock", s.UnblockSim)
		sims.POST("/:sim_id/terminate", s.transitionHandler(simdomain.SimStateTerminated))
		sims.GET("/:sim_id/labels", s.ListSimLabels)
		sims.PUT("/:sim_id/labels", s.SetSimLabels)
		sims.DELETE("/:sim_id/labels/:key", s.DeleteSimLabel)
		sims.GET("/:sim_id/cycles/:cycle_id", s.GetUsageCycle)
	}

	usageGroup := api.Group("/usage")
	{
		usageGroup.POST("/records", s.IngestRateLimit(), s.SubmitUsageRecord)
		usageGroup.POST("/records/batch", s.IngestRateLimit(), s.SubmitUsageBatch)
		usageGroup.GET("/records", s.ListUsageRecords)
		usageGroup.GET("/rollups", s.QueryRollups)
		usageGroup.POST("/rollups/rebuild", s.RebuildRollups)
	}

	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/subscribers", s.CreateWebhookSubscriber)
		webhooks.GET("/subscribers", s.ListWebhookSubscribers)
		webhooks.GET("/subscribers/:subscriber_id", s.GetWebhookSubscriber)
		webhooks.PATCH("/subscribers/:subscriber_id", s.UpdateWebhookSubscriber)
		webhooks.DELETE("/subscribers/:subscriber_id", s.DeleteWebhookSubscriber)
		webhooks.GET("/deliveries", s.ListWebhookDeliveries)
	}

	api.GET("/audit-logs", s.ListAuditLogs)
}
