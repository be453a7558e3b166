package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	"github.com/smallbiznis/payrouter/internal/config"
	deliverydomain "github.com/smallbiznis/payrouter/internal/delivery/domain"
	"github.com/smallbiznis/payrouter/internal/observability"
	obsmiddleware "github.com/smallbiznis/payrouter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payrouter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/payrouter/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/internal/ratelimit"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware("/health", "/metrics"))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine        *gin.Engine
	log           *zap.Logger
	routingSvc    routingdomain.Service
	providerSvc   providerdomain.Service
	deliverySvc   deliverydomain.Service
	analyticsSvc  analyticsdomain.Service
	ingestLimiter *ratelimit.IngestLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	RoutingSvc    routingdomain.Service
	ProviderSvc   providerdomain.Service
	DeliverySvc   deliverydomain.Service
	AnalyticsSvc  analyticsdomain.Service
	IngestLimiter *ratelimit.IngestLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		routingSvc:    p.RoutingSvc,
		providerSvc:   p.ProviderSvc,
		deliverySvc:   p.DeliverySvc,
		analyticsSvc:  p.AnalyticsSvc,
		ingestLimiter: p.IngestLimiter,
		obsMetrics:    p.ObsMetrics,
	}
	s.RegisterAPIRoutes()
	return s
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	routing := api.Group("/routing")
	{
		routing.POST("/select", s.SelectProvider)
		routing.POST("/rules", s.CreateRule)
		routing.GET("/rules", s.ListRules)
		routing.GET("/rules/:id", s.GetRule)
		routing.PATCH("/rules/:id", s.UpdateRule)
		routing.DELETE("/rules/:id", s.DeleteRule)
	}

	providers := api.Group("/providers")
	{
		providers.POST("", s.CreateProvider)
		providers.GET("", s.ListProviders)
		providers.GET("/active", s.ListActiveProviders)
		providers.GET("/:id", s.GetProvider)
		providers.PATCH("/:id", s.UpdateProvider)
		providers.POST("/:id/activate", s.ActivateProvider)
		providers.POST("/:id/deactivate", s.DeactivateProvider)
		providers.PUT("/:id/health", s.SetProviderHealth)
		providers.DELETE("/:id", s.DeleteProvider)
	}

	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("", s.CreateWebhook)
		webhooks.GET("", s.ListWebhooks)
		webhooks.GET("/due", s.ListDueWebhooks)
		webhooks.GET("/:id", s.GetWebhook)
		webhooks.PATCH("/:id", s.UpdateWebhook)
		webhooks.DELETE("/:id", s.DeleteWebhook)
		webhooks.POST("/:id/trigger", s.RecordWebhookTrigger)
		webhooks.POST("/:id/reset", s.ResetWebhookRetries)
		webhooks.POST("/:id/verify", s.VerifyWebhookSignature)
	}

	analytics := api.Group("/analytics")
	{
		analytics.POST("/events", s.AnalyticsIngestRateLimit(), s.RecordAnalyticsEvent)
		analytics.GET("/success-rates", s.GetSuccessRates)
		analytics.GET("/volume", s.GetVolumeOverTime)
		analytics.GET("/errors", s.GetErrorAnalysis)
		analytics.GET("/performance", s.GetPerformanceMetrics)
		analytics.POST("/cleanup", s.CleanupAnalytics)
	}
}
