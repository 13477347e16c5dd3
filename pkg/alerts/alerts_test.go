package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

func TestPagerDutyClient_FetchIncident(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pd-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.pagerduty+json;version=2", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/incidents/Q1ABCD":
			_, _ = w.Write([]byte(`{"incident":{
				"id":"Q1ABCD","incident_number":4521,"title":"High error rate on checkout",
				"status":"triggered","urgency":"high","html_url":"https://acme.pagerduty.com/incidents/Q1ABCD",
				"created_at":"2026-03-01T10:00:00Z","service":{"summary":"checkout-api"}}}`))
		case "/incidents/Q1ABCD/alerts":
			_, _ = w.Write([]byte(`{"alerts":[{"id":"A1","status":"triggered",
				"body":{"type":"alert_body","details":{"error_rate":"12%","hosts":["a","b"]}}}]}`))
		case "/incidents/Q2QUIET":
			_, _ = w.Write([]byte(`{"incident":{"id":"Q2QUIET","title":"Quiet","status":"resolved",
				"urgency":"low","priority":{"summary":"P3"},"created_at":"2026-03-01T10:00:00Z"}}`))
		case "/incidents/Q2QUIET/alerts":
			_, _ = w.Write([]byte(`{"alerts":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":2100,"message":"Not Found"}}`))
		}
	}))
	defer srv.Close()

	c := NewPagerDutyClient(srv.URL, "pd-token", 5*time.Second)

	inc, err := c.FetchIncident(context.Background(), "Q1ABCD")
	require.NoError(t, err)
	assert.Equal(t, models.VendorPagerDuty, inc.Vendor)
	assert.Equal(t, "4521", inc.Number)
	assert.Equal(t, "checkout-api", inc.Service)
	assert.Equal(t, "high", inc.Severity)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), inc.CreatedAt.UTC())
	assert.Equal(t, "12%", inc.Details["error_rate"])
	assert.Equal(t, `["a","b"]`, inc.Details["hosts"])

	inc, err = c.FetchIncident(context.Background(), "Q2QUIET")
	require.NoError(t, err)
	assert.Equal(t, "P3", inc.Severity, "priority wins over urgency")
	assert.Empty(t, inc.Number)
	assert.Nil(t, inc.Details)

	_, err = c.FetchIncident(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestOpsgenieClient_FetchIncident(t *testing.T) {
	var gotIdentifierType string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GenieKey og-key", r.Header.Get("Authorization"))
		gotIdentifierType = r.URL.Query().Get("identifierType")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/alerts/gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Alert does not exist","took":0.01,"requestId":"r1"}`))
			return
		case "/v2/alerts/locked":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Key has no access","took":0.01,"requestId":"r2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"70413a06-38d6-4c85-92b8-5ebc900d42e2","tinyId":"1791",
			"message":"Disk usage above 90%","status":"open","priority":"P2","entity":"db-1",
			"tags":["disk","prod"],"details":{"mount":"/var"},"createdAt":"2026-03-01T10:00:00Z"},
			"took":0.01,"requestId":"r0"}`))
	}))
	defer srv.Close()

	c, err := NewOpsgenieClient(srv.URL, "og-key", 5*time.Second, srv.Client())
	require.NoError(t, err)

	inc, err := c.FetchIncident(context.Background(), "1791")
	require.NoError(t, err)
	assert.Equal(t, "tiny", gotIdentifierType)
	assert.Equal(t, "1791", inc.Number)
	assert.Equal(t, "P2", inc.Severity)
	assert.Equal(t, "db-1", inc.Service)
	assert.Equal(t, "/var", inc.Details["mount"])

	_, err = c.FetchIncident(context.Background(), "70413a06-38d6-4c85-92b8-5ebc900d42e2")
	require.NoError(t, err)
	assert.Equal(t, "id", gotIdentifierType)

	_, err = c.FetchIncident(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = c.FetchIncident(context.Background(), "locked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestOpsgenieHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "api.opsgenie.com"},
		{in: "https://api.eu.opsgenie.com", want: "api.eu.opsgenie.com"},
		{in: "https://127.0.0.1:8443/", want: "127.0.0.1:8443"},
		{in: "api.opsgenie.com", want: "api.opsgenie.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, string(opsgenieHost(tt.in)))
		})
	}
}

func TestNewFetcher(t *testing.T) {
	cfg := &config.AlertsConfig{}
	tests := []struct {
		name    string
		in      models.Integration
		wantErr error
	}{
		{
			name: "pagerduty",
			in: models.Integration{Vendor: models.Vendor{Name: models.VendorPagerDuty},
				Credentials: map[string]string{"access_token": "t"}},
		},
		{
			name: "opsgenie",
			in: models.Integration{Vendor: models.Vendor{Name: models.VendorOpsgenie},
				Credentials: map[string]string{"api_key": "k"}},
		},
		{
			name:    "missing token",
			in:      models.Integration{Vendor: models.Vendor{Name: models.VendorPagerDuty}},
			wantErr: ErrMissingCredentials,
		},
		{
			name:    "unsupported",
			in:      models.Integration{Vendor: models.Vendor{Name: models.VendorGithub}},
			wantErr: ErrUnsupportedVendor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFetcher(cfg, tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, f)
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	prompt, err := RenderPrompt(&Incident{
		Vendor:    models.VendorPagerDuty,
		ID:        "Q1ABCD",
		Number:    "4521",
		Title:     "High error rate on checkout",
		Status:    "triggered",
		Service:   "checkout-api",
		Tags:      []string{"prod", "payments"},
		Details:   map[string]string{"b": "2", "a": "1"},
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "A PagerDuty alert was triggered (#4521).")
	assert.Contains(t, prompt, "Service: checkout-api")
	assert.Contains(t, prompt, "Triggered at: 2026-03-01T10:00:00Z")
	assert.Contains(t, prompt, "Tags: prod, payments")
	assert.Contains(t, prompt, "- a: 1\n- b: 2")
	assert.NotContains(t, prompt, "Severity:")

	_, err = RenderPrompt(nil)
	assert.Error(t, err)
}

type stubFetcher struct {
	inc *Incident
	err error
}

func (s stubFetcher) FetchIncident(context.Context, string) (*Incident, error) {
	return s.inc, s.err
}

func TestBuildPrompt(t *testing.T) {
	prompt, inc, err := BuildPrompt(context.Background(), stubFetcher{inc: &Incident{Vendor: "Opsgenie", Title: "Disk"}}, "1")
	require.NoError(t, err)
	assert.Equal(t, "Disk", inc.Title)
	assert.Contains(t, prompt, "Title: Disk")

	_, _, err = BuildPrompt(context.Background(), stubFetcher{err: ErrIncidentNotFound}, "1")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
