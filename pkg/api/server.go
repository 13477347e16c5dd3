// Package api serves the alert webhooks, the index and integration
// management endpoints, and the operational endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/triage"
	"github.com/merlinn-co/merlinn/pkg/webhook"
)

// AlertPipeline investigates one alert webhook.
type AlertPipeline interface {
	Handle(ctx context.Context, in webhook.Inbound) (*triage.Result, error)
}

// IndexCoordinator manages the organization's knowledge index.
type IndexCoordinator interface {
	GetState(ctx context.Context, principal models.Principal) (*services.IndexView, error)
	Request(ctx context.Context, principal models.Principal, dataSources []string) (*services.IndexView, error)
	UpdateSource(ctx context.Context, indexID string, update services.SourceUpdate) (*services.IndexView, error)
	Delete(ctx context.Context, principal models.Principal, indexID string) error
}

// IntegrationManager creates and lists vendor connections.
type IntegrationManager interface {
	Create(ctx context.Context, principal models.Principal, input services.CreateIntegrationInput) (*models.Integration, error)
	List(ctx context.Context, principal models.Principal) ([]models.Integration, error)
}

// WebhookManager creates and lists per-organization webhook secrets.
type WebhookManager interface {
	Create(ctx context.Context, principal models.Principal, vendor, secret string) (*models.Webhook, error)
	List(ctx context.Context, principal models.Principal) ([]models.Webhook, error)
}

// UserRegistrar handles identity-provider signups.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, externalID, email string) (*models.User, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Deps are the services the handlers call. Nil services leave their routes
// unregistered.
type Deps struct {
	Pipeline     AlertPipeline
	Indexes      IndexCoordinator
	Integrations IntegrationManager
	Webhooks     WebhookManager
	Users        UserRegistrar
	Tokens       *TokenService
	Health       map[string]HealthChecker
}

// Server is the HTTP API.
type Server struct {
	cfg        *config.Config
	deps       Deps
	echo       *echo.Echo
	httpServer *http.Server
	limiter    *RateLimiter
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg == nil {
		panic("NewServer: cfg must not be nil")
	}
	if deps.Tokens == nil {
		deps.Tokens = NewTokenService(cfg.Auth.JWTSecret(), 0)
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		echo:    echo.New(),
		limiter: NewRateLimiter(cfg.Server.RateLimit),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(requestLogger())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", metricsHandler())

	v1 := e.Group("/api/v1")

	if s.deps.Pipeline != nil {
		hooks := v1.Group("/webhooks", rateLimit(s.limiter))
		hooks.POST("/pagerduty", s.alertWebhookHandler(models.VendorPagerDuty))
		hooks.POST("/opsgenie", s.alertWebhookHandler(models.VendorOpsgenie))
	}
	if s.deps.Users != nil {
		v1.POST("/webhooks/auth/after-signup", s.afterSignupHandler,
			requireSharedKey("Authorization", s.cfg.Webhooks.AfterSignupSecret))
	}

	authed := v1.Group("", requirePrincipal(s.deps.Tokens))
	if s.deps.Indexes != nil {
		authed.GET("/index", s.getIndexHandler)
		authed.POST("/index", s.createIndexHandler)
		authed.DELETE("/index/:id", s.deleteIndexHandler)
		v1.POST("/internal/index/:id/progress", s.indexProgressHandler,
			requireSharedKey(HeaderServiceKey, s.cfg.Auth.ServiceKey))
	}
	if s.deps.Integrations != nil {
		authed.GET("/integrations", s.listIntegrationsHandler)
		authed.POST("/integrations", s.createIntegrationHandler)
	}
	if s.deps.Webhooks != nil {
		authed.GET("/webhooks", s.listWebhooksHandler)
		authed.POST("/webhooks", s.createWebhookHandler)
	}
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.httpServer = &http.Server{
		Addr:              sc.Address,
		Handler:           s.echo,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sc.WriteTimeout,
	}
	slog.Info("HTTP server listening", "address", sc.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func metricsHandler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
