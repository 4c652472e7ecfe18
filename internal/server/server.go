package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/matchwell/entitlements/internal/account"
	accountdomain "github.com/matchwell/entitlements/internal/account/domain"
	"github.com/matchwell/entitlements/internal/audit"
	auditdomain "github.com/matchwell/entitlements/internal/audit/domain"
	"github.com/matchwell/entitlements/internal/billing"
	billingdomain "github.com/matchwell/entitlements/internal/billing/domain"
	"github.com/matchwell/entitlements/internal/config"
	"github.com/matchwell/entitlements/internal/observability"
	obsmiddleware "github.com/matchwell/entitlements/internal/observability/logger"
	obstracing "github.com/matchwell/entitlements/internal/observability/tracing"
	"github.com/matchwell/entitlements/internal/plan"
	"github.com/matchwell/entitlements/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	plan.Module,
	account.Module,
	audit.Module,
	ratelimit.Module,
	billing.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	accountSvc accountdomain.Service
	auditSvc   auditdomain.Service
	billingSvc billingdomain.Service
	webhookSvc billingdomain.WebhookService
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	AccountSvc accountdomain.Service
	AuditSvc   auditdomain.Service
	BillingSvc billingdomain.Service
	WebhookSvc billingdomain.WebhookService
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		accountSvc: p.AccountSvc,
		auditSvc:   p.AuditSvc,
		billingSvc: p.BillingSvc,
		webhookSvc: p.WebhookSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing/:provider", s.HandleBillingWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/users/:user_id/entitlements", s.GetEntitlements)
		v1.POST("/users/:user_id/usage", s.RecordUsage)
		v1.POST("/account-links", s.CreateAccountLink)
		v1.GET("/account-links/:external_customer_id", s.GetAccountLink)
		v1.GET("/audit-logs", s.ListAuditLogs)
	}
}
