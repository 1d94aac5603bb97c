package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/config"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditledger/internal/observability/tracing"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine          *gin.Engine
	cfg             config.Config
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	assetSvc        assetdomain.Service
	invoiceSvc      invoicedomain.Service
	gainShareSvc    gainsharedomain.Service
	auditSvc        auditdomain.Service
	webhooks        processordomain.WebhookVerifier
	usageLimiter    *ratelimit.UsageTrackLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	AssetSvc        assetdomain.Service
	InvoiceSvc      invoicedomain.Service
	GainShareSvc    gainsharedomain.Service
	AuditSvc        auditdomain.Service
	Webhooks        processordomain.WebhookVerifier
	UsageLimiter    *ratelimit.UsageTrackLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		assetSvc:        p.AssetSvc,
		invoiceSvc:      p.InvoiceSvc,
		gainShareSvc:    p.GainShareSvc,
		auditSvc:        p.AuditSvc,
		webhooks:        p.Webhooks,
		usageLimiter:    p.UsageLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.GET("/plans", s.ListPlans)

	subscriptions := r.Group("/subscriptions")
	subscriptions.POST("", s.CreateSubscription)
	subscriptions.GET("/:id", s.GetSubscription)
	subscriptions.POST("/:id/cancel", s.CancelSubscription)
	subscriptions.POST("/:id/rebuild-balance", s.RebuildBalance)

	usage := r.Group("/usage")
	usage.POST("/track", s.UsageTrackRateLimit(), s.TrackUsage)
	usage.GET("/summary", s.UsageSummary)
	usage.GET("/events", s.ListUsageEvents)

	r.POST("/assets/snapshots", s.RecordAssetSnapshot)

	invoices := r.Group("/invoices")
	invoices.GET("", s.ListInvoices)
	invoices.GET("/:id", s.GetInvoice)
	invoices.GET("/:id/pdf", s.DownloadInvoicePDF)

	internal := r.Group("/internal")
	internal.POST("/invoices/generate", s.GenerateInvoice)
	internal.POST("/invoices/sync", s.SyncInvoices)

	kpi := r.Group("/kpi")
	kpi.POST("/baselines", s.CreateBaseline)
	kpi.POST("/measurements", s.RecordMeasurement)

	gainshare := r.Group("/gainshare/runs")
	gainshare.POST("", s.CalculateGainShare)
	gainshare.GET("", s.ListGainShareRuns)
	gainshare.GET("/:id", s.GetGainShareRun)
	gainshare.POST("/:id/approve", s.ApproveGainShareRun)
	gainshare.POST("/:id/reject", s.RejectGainShareRun)

	r.GET("/audit-logs", s.ListAuditLogs)

	r.POST("/webhooks/stripe", s.StripeWebhook)
}
