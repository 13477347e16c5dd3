package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/webhook"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

// requestLogger logs one line per request at Debug, and at Warn when the
// handler returned an error.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"duration", time.Since(start),
			}
			if err != nil {
				slog.Warn("HTTP request failed", append(attrs, "error", err)...)
				return err
			}
			slog.Debug("HTTP request", attrs...)
			return nil
		}
	}
}

// RateLimiter bounds webhook intake globally and per organization with
// token buckets.
type RateLimiter struct {
	mu     sync.Mutex
	global *rate.Limiter
	orgs   map[string]*rate.Limiter
	perOrg rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter from cfg. Zero rates disable that
// bucket.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		orgs:   make(map[string]*rate.Limiter),
		perOrg: rate.Limit(cfg.PerOrgRequestsPerMinute / 60),
		burst:  burst,
	}
	if cfg.GlobalRequestsPerMinute > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRequestsPerMinute/60), burst)
	}
	return rl
}

// Allow reports whether a request for organizationID may proceed.
func (rl *RateLimiter) Allow(organizationID string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.perOrg <= 0 {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.orgs[organizationID]
	if !ok {
		l = rate.NewLimiter(rl.perOrg, rl.burst)
		rl.orgs[organizationID] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// rateLimit rejects webhook deliveries over the limit with 429.
func rateLimit(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			org := webhook.OrganizationID(webhook.Inbound{
				Header: c.Request().Header,
				Query:  c.Request().URL.Query(),
			})
			if !rl.Allow(org) {
				slog.Warn("Webhook rate limited", "organization_id", org, "path", c.Request().URL.Path)
				return c.JSON(http.StatusTooManyRequests, &ErrorResponse{Code: CodeRateLimited, Message: "too many requests"})
			}
			return next(c)
		}
	}
}
