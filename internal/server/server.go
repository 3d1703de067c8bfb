package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/nubomail/nubo/internal/apikey"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
	"github.com/nubomail/nubo/internal/audit"
	auditdomain "github.com/nubomail/nubo/internal/audit/domain"
	"github.com/nubomail/nubo/internal/authorization"
	"github.com/nubomail/nubo/internal/billing"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	"github.com/nubomail/nubo/internal/config"
	"github.com/nubomail/nubo/internal/ledger"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	"github.com/nubomail/nubo/internal/mailcow"
	"github.com/nubomail/nubo/internal/observability"
	obslogger "github.com/nubomail/nubo/internal/observability/logger"
	obsmetrics "github.com/nubomail/nubo/internal/observability/metrics"
	"github.com/nubomail/nubo/internal/providers"
	"github.com/nubomail/nubo/internal/provisioning"
	provisioningdomain "github.com/nubomail/nubo/internal/provisioning/domain"
	"github.com/nubomail/nubo/internal/ratelimit"
	"github.com/nubomail/nubo/internal/verification"
	verificationdomain "github.com/nubomail/nubo/internal/verification/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	observability.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	apikey.Module,
	ledger.Module,
	mailcow.Module,
	providers.Module,
	provisioning.Module,
	verification.Module,
	billing.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.Environment != "production",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return r
}

func registerGin(cfg config.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(cfg, metrics)
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
	engine *gin.Engine
	cfg    config.Config
	genID  *snowflake.Node

	ledgerSvc       ledgerdomain.Service
	provisioningSvc provisioningdomain.Orchestrator
	verificationSvc verificationdomain.Service
	billingSvc      billingdomain.Service
	apiKeySvc       apikeydomain.Service
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	paymentLimiter  *ratelimit.PaymentLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	GenID           *snowflake.Node
	LedgerSvc       ledgerdomain.Service
	ProvisioningSvc provisioningdomain.Orchestrator
	VerificationSvc verificationdomain.Service
	BillingSvc      billingdomain.Service
	APIKeySvc       apikeydomain.Service
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	PaymentLimiter  *ratelimit.PaymentLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		genID:           p.GenID,
		ledgerSvc:       p.LedgerSvc,
		provisioningSvc: p.ProvisioningSvc,
		verificationSvc: p.VerificationSvc,
		billingSvc:      p.BillingSvc,
		apiKeySvc:       p.APIKeySvc,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		paymentLimiter:  p.PaymentLimiter,
	}

	s.registerAPIRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// The webhook authenticates itself via the gateway signature.
	api.POST("/payments/webhook", s.WebhookRateLimit(), s.HandlePaymentWebhook)

	api.Use(s.APIKeyRequired())

	// -------- Partners --------
	api.POST("/partners", s.authorize(authorization.ObjectPartner, authorization.ActionCreate), s.CreatePartner)
	api.GET("/partners/:id", s.authorize(authorization.ObjectPartner, authorization.ActionView), s.GetPartner)
	api.POST("/partners/:id/pool", s.authorize(authorization.ObjectPartner, authorization.ActionResize), s.GrowPartnerPool)
	api.DELETE("/partners/:id", s.authorize(authorization.ObjectPartner, authorization.ActionDelete), s.DeletePartner)
	api.GET("/partners/:id/organizations", s.authorize(authorization.ObjectOrganization, authorization.ActionView), s.ListPartnerOrganizations)
	api.POST("/partners/:id/orders", s.authorize(authorization.ObjectPartner, authorization.ActionPurchase), s.CreatePartnerStorageOrder)
	api.GET("/partners/:id/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListPartnerInvoices)

	// -------- Organizations --------
	api.POST("/organizations", s.authorize(authorization.ObjectOrganization, authorization.ActionCreate), s.CreateOrganization)
	api.GET("/organizations/:id", s.authorize(authorization.ObjectOrganization, authorization.ActionView), s.GetOrganization)
	api.PATCH("/organizations/:id/pool", s.authorize(authorization.ObjectOrganization, authorization.ActionResize), s.ResizeOrganization)
	api.DELETE("/organizations/:id", s.authorize(authorization.ObjectOrganization, authorization.ActionDelete), s.DeleteOrganization)
	api.GET("/organizations/:id/domains", s.authorize(authorization.ObjectDomain, authorization.ActionView), s.ListOrganizationDomains)
	api.POST("/organizations/:id/orders", s.authorize(authorization.ObjectOrganization, authorization.ActionPurchase), s.CreateOrganizationStorageOrder)
	api.GET("/organizations/:id/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListOrganizationInvoices)

	// -------- Domains --------
	api.POST("/domains", s.authorize(authorization.ObjectDomain, authorization.ActionCreate), s.CreateDomain)
	api.GET("/domains/:id", s.authorize(authorization.ObjectDomain, authorization.ActionView), s.GetDomain)
	api.PATCH("/domains/:id/quota", s.authorize(authorization.ObjectDomain, authorization.ActionResize), s.UpdateDomainQuota)
	api.DELETE("/domains/:id", s.authorize(authorization.ObjectDomain, authorization.ActionDelete), s.DeleteDomain)
	api.POST("/domains/:id/retry", s.authorize(authorization.ObjectDomain, authorization.ActionRetry), s.RetryDomain)
	api.POST("/domains/:id/verify-dns", s.authorize(authorization.ObjectDomain, authorization.ActionVerify), s.VerifyRateLimit(), s.VerifyDomainDNS)
	api.GET("/domains/:id/dns-records", s.authorize(authorization.ObjectDomain, authorization.ActionView), s.GetExpectedDNSRecords)
	api.GET("/domains/:id/users", s.authorize(authorization.ObjectMailbox, authorization.ActionView), s.ListDomainUsers)

	// -------- Users --------
	api.POST("/users", s.authorize(authorization.ObjectMailbox, authorization.ActionCreate), s.CreateUser)
	api.GET("/users/:id", s.authorize(authorization.ObjectMailbox, authorization.ActionView), s.GetUser)
	api.PATCH("/users/:id/quota", s.authorize(authorization.ObjectMailbox, authorization.ActionResize), s.UpdateUserQuota)
	api.DELETE("/users/:id", s.authorize(authorization.ObjectMailbox, authorization.ActionDelete), s.DeleteUser)

	// -------- Billing --------
	api.POST("/payments/verify", s.authorize(authorization.ObjectPayment, authorization.ActionSettle), s.VerifyRateLimit(), s.VerifyPayment)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.GetInvoice)
	api.GET("/invoices/:id/receipt", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.RenderReceipt)

	// -------- API keys / audit --------
	api.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionView), s.ListAPIKeys)
	api.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionCreate), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.authorize(authorization.ObjectAPIKey, authorization.ActionRevoke), s.RevokeAPIKey)
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}
