package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/merlinn-co/merlinn/pkg/config"
)

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRateLimiter(t *testing.T) {
	t.Run("per organization bucket", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{PerOrgRequestsPerMinute: 1, Burst: 2})

		assert.True(t, rl.Allow("org-1"))
		assert.True(t, rl.Allow("org-1"))
		assert.False(t, rl.Allow("org-1"), "burst exhausted")
		assert.True(t, rl.Allow("org-2"), "other organizations are unaffected")
	})

	t.Run("global bucket", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{GlobalRequestsPerMinute: 1, Burst: 1})

		assert.True(t, rl.Allow("org-1"))
		assert.False(t, rl.Allow("org-2"))
	})

	t.Run("zero rates disable limiting", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{})
		for range 100 {
			assert.True(t, rl.Allow("org-1"))
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(config.RateLimitConfig{PerOrgRequestsPerMinute: 1, Burst: 1})
	e.POST("/hook", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, rateLimit(rl))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hook?organization=org-1", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeRateLimited)
}
