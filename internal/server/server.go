package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mapato/taxcore/internal/amendment"
	amendmentdomain "github.com/mapato/taxcore/internal/amendment/domain"
	"github.com/mapato/taxcore/internal/audit"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/config"
	"github.com/mapato/taxcore/internal/filing"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	"github.com/mapato/taxcore/internal/gateway"
	"github.com/mapato/taxcore/internal/observability"
	obsmiddleware "github.com/mapato/taxcore/internal/observability/logger"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	obstracing "github.com/mapato/taxcore/internal/observability/tracing"
	"github.com/mapato/taxcore/internal/payment"
	paymentdomain "github.com/mapato/taxcore/internal/payment/domain"
	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/mapato/taxcore/internal/taxpayer"
	taxpayerdomain "github.com/mapato/taxcore/internal/taxpayer/domain"
	"github.com/mapato/taxcore/internal/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratetable.Module,
	calculator.Module,
	validation.Module,
	gateway.Module,
	audit.Module,
	taxpayer.Module,
	filing.Module,
	payment.Module,
	amendment.Module,
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
	r.Use(ActorMiddleware())
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

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine *gin.Engine
	cfg    config.Config

	taxpayerSvc  taxpayerdomain.Service
	filingSvc    filingdomain.Service
	paymentSvc   paymentdomain.Service
	amendmentSvc amendmentdomain.Service
	auditSvc     auditdomain.Service
	calcSvc      *calculator.Service
	rates        *ratetable.Store
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	TaxpayerSvc  taxpayerdomain.Service
	FilingSvc    filingdomain.Service
	PaymentSvc   paymentdomain.Service
	AmendmentSvc amendmentdomain.Service
	AuditSvc     auditdomain.Service
	CalcSvc      *calculator.Service
	Rates        *ratetable.Store
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		taxpayerSvc:  p.TaxpayerSvc,
		filingSvc:    p.FilingSvc,
		paymentSvc:   p.PaymentSvc,
		amendmentSvc: p.AmendmentSvc,
		auditSvc:     p.AuditSvc,
		calcSvc:      p.CalcSvc,
		rates:        p.Rates,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	taxpayers := v1.Group("/taxpayers")
	taxpayers.POST("", s.RegisterTaxpayer)
	taxpayers.GET("", s.GetTaxpayerByPIN)
	taxpayers.GET("/:id", s.GetTaxpayer)
	taxpayers.POST("/:id/deactivate", s.DeactivateTaxpayer)

	filings := v1.Group("/filings")
	filings.POST("", s.CreateFiling)
	filings.GET("", s.ListFilings)
	filings.GET("/:id", s.GetFiling)
	filings.PATCH("/:id", s.UpdateFiling)
	filings.POST("/:id/validate", s.ValidateFiling)
	filings.POST("/:id/compute", s.ComputeFiling)
	filings.POST("/:id/ready", s.MarkReadyFiling)
	filings.POST("/:id/submit", s.SubmitFiling)
	filings.POST("/:id/sync", s.SyncFiling)
	filings.GET("/:id/payments", s.ListFilingPayments)
	filings.GET("/:id/amendments", s.ListFilingAmendments)

	payments := v1.Group("/payments")
	payments.POST("", s.RecordPayment)
	payments.POST("/initiate", s.InitiatePayment)
	payments.POST("/:ref/confirm", s.ConfirmPayment)

	amendments := v1.Group("/amendments")
	amendments.POST("", s.CreateAmendment)
	amendments.GET("/:id", s.GetAmendment)

	rates := v1.Group("/rate-tables")
	rates.GET("", s.ListRateTableYears)
	rates.GET("/:year", s.GetRateTable)

	v1.GET("/audit-logs", s.ListAuditLogs)
	v1.POST("/calculator/assess", s.Assess)
}
