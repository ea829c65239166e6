package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creditrail/creditrail/internal/billing"
	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
	"github.com/creditrail/creditrail/internal/config"
	obsmetrics "github.com/creditrail/creditrail/internal/observability/metrics"
	"github.com/creditrail/creditrail/internal/payment"
	"github.com/creditrail/creditrail/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	billing.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger

	billingSvc billingdomain.Service
	webhookSvc *webhook.Service
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	DB  *gorm.DB
	Log *zap.Logger

	BillingSvc billingdomain.Service
	WebhookSvc *webhook.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("server"),

		billingSvc: p.BillingSvc,
		webhookSvc: p.WebhookSvc,
		obsMetrics: p.ObsMetrics,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	billingGroup := api.Group("/billing")
	billingGroup.Use(s.UserRequired())
	{
		billingGroup.GET("/wallet", s.GetWallet)
		billingGroup.GET("/subscription", s.GetSubscription)
		billingGroup.GET("/ledger", s.ListLedger)
		billingGroup.GET("/packs", s.ListPacks)
		billingGroup.POST("/precheck", s.Precheck)
		billingGroup.POST("/usage", s.CommitUsage)
		billingGroup.POST("/checkout", s.CreateCheckout)
	}

	api.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
