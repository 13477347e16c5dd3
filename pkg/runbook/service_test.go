package runbook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/alerts"
	"github.com/merlinn-co/merlinn/pkg/config"
)

// redirectTransport sends every request to server, keeping the path.
type redirectTransport struct {
	server *httptest.Server
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, _ := url.Parse(rt.server.URL)
	out := req.Clone(req.Context())
	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	out.Host = target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func newTestService(t *testing.T, cfg *config.RunbookConfig, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	svc := NewService(cfg)
	svc.httpClient = &http.Client{Transport: redirectTransport{server: server}}
	return svc
}

func incidentWith(details map[string]string) *alerts.Incident {
	return &alerts.Incident{Vendor: "PagerDuty", ID: "Q1ABCD", Title: "DB latency", Details: details}
}

func TestURLFor(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/sre/blob/main/db.md",
		URLFor(incidentWith(map[string]string{"Runbook_URL": "https://github.com/acme/sre/blob/main/db.md"})))
	assert.Equal(t, "https://wiki.acme.io/db",
		URLFor(incidentWith(map[string]string{"playbook": " https://wiki.acme.io/db"})))
	assert.Empty(t, URLFor(incidentWith(map[string]string{"runbook": "see the wiki"})))
	assert.Empty(t, URLFor(nil))
}

func TestService_Resolve(t *testing.T) {
	t.Run("alert link wins over defaults", func(t *testing.T) {
		var gotPath string
		svc := newTestService(t, &config.RunbookConfig{
			DefaultURL: "https://github.com/acme/sre/blob/main/default.md",
			Default:    "inline",
		}, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte("# Database latency"))
		})

		got, err := svc.Resolve(context.Background(),
			incidentWith(map[string]string{"runbook_url": "https://github.com/acme/sre/blob/main/db.md"}))
		require.NoError(t, err)
		assert.Equal(t, "# Database latency", got)
		assert.Equal(t, "/acme/sre/refs/heads/main/db.md", gotPath, "blob link fetched in raw form")
	})

	t.Run("default url when the alert has none", func(t *testing.T) {
		svc := newTestService(t, &config.RunbookConfig{DefaultURL: "https://runbooks.acme.io/default.md"},
			func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# Default")) })

		got, err := svc.Resolve(context.Background(), incidentWith(nil))
		require.NoError(t, err)
		assert.Equal(t, "# Default", got)
	})

	t.Run("inline default without any url", func(t *testing.T) {
		got, err := NewService(&config.RunbookConfig{Default: "Check the dashboards first."}).
			Resolve(context.Background(), incidentWith(nil))
		require.NoError(t, err)
		assert.Equal(t, "Check the dashboards first.", got)
	})

	t.Run("nil config resolves empty", func(t *testing.T) {
		got, err := NewService(nil).Resolve(context.Background(), incidentWith(nil))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("fetch failure is returned", func(t *testing.T) {
		svc := newTestService(t, &config.RunbookConfig{}, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := svc.Resolve(context.Background(),
			incidentWith(map[string]string{"runbook": "https://runbooks.acme.io/missing.md"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 404")
	})

	t.Run("missing runbook is not refetched for every alert", func(t *testing.T) {
		var calls atomic.Int32
		svc := newTestService(t, &config.RunbookConfig{CacheTTL: time.Hour}, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		})
		inc := incidentWith(map[string]string{"runbook": "https://runbooks.acme.io/missing.md"})

		for range 3 {
			_, err := svc.Resolve(context.Background(), inc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "HTTP 404")
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		svc := newTestService(t, &config.RunbookConfig{CacheTTL: time.Hour}, func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte("recovered"))
		})
		inc := incidentWith(map[string]string{"runbook": "https://runbooks.acme.io/db.md"})

		_, err := svc.Resolve(context.Background(), inc)
		require.Error(t, err)
		got, err := svc.Resolve(context.Background(), inc)
		require.NoError(t, err)
		assert.Equal(t, "recovered", got)
	})

	t.Run("link spellings share one fetch", func(t *testing.T) {
		var calls atomic.Int32
		svc := newTestService(t, &config.RunbookConfig{CacheTTL: time.Hour}, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte("# DB"))
		})

		for _, link := range []string{
			"https://github.com/acme/sre/blob/main/db.md",
			"https://www.github.com/acme/sre/blob/main/db.md",
			"https://raw.githubusercontent.com/acme/sre/refs/heads/main/db.md#triage",
		} {
			got, err := svc.Resolve(context.Background(), incidentWith(map[string]string{"runbook_url": link}))
			require.NoError(t, err)
			assert.Equal(t, "# DB", got)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("disallowed host is not fetched", func(t *testing.T) {
		var calls atomic.Int32
		svc := newTestService(t, &config.RunbookConfig{AllowedDomains: []string{"github.com"}},
			func(http.ResponseWriter, *http.Request) { calls.Add(1) })

		_, err := svc.Resolve(context.Background(),
			incidentWith(map[string]string{"runbook": "https://attacker.example/db.md"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed list")
		assert.Zero(t, calls.Load())
	})

	t.Run("content is cached", func(t *testing.T) {
		var calls atomic.Int32
		svc := newTestService(t, &config.RunbookConfig{CacheTTL: time.Hour}, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte("cached"))
		})
		inc := incidentWith(map[string]string{"runbook": "https://runbooks.acme.io/db.md"})

		for range 3 {
			got, err := svc.Resolve(context.Background(), inc)
			require.NoError(t, err)
			assert.Equal(t, "cached", got)
		}
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestService_TokenOnlySentToGitHub(t *testing.T) {
	t.Setenv("TEST_RUNBOOK_TOKEN", "ghp_secret")

	var auth atomic.Value
	svc := newTestService(t, &config.RunbookConfig{GitHubTokenEnv: "TEST_RUNBOOK_TOKEN"},
		func(w http.ResponseWriter, r *http.Request) {
			auth.Store(r.Header.Get("Authorization"))
			_, _ = w.Write([]byte("ok"))
		})

	_, err := svc.Resolve(context.Background(),
		incidentWith(map[string]string{"runbook": "https://github.com/acme/private/blob/main/db.md"}))
	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_secret", auth.Load())

	_, err = svc.Resolve(context.Background(),
		incidentWith(map[string]string{"runbook": "https://wiki.acme.io/db.md"}))
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}
