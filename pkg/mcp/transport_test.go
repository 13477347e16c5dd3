package mcp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/models"
)

func TestServerConfigFromIntegration(t *testing.T) {
	cfg, err := ServerConfigFromIntegration(models.Integration{
		ID:          "int-1",
		Credentials: map[string]string{"token": "tok"},
		Metadata: map[string]any{
			"url":             "https://mcp.example.com/mcp",
			"transport":       "SSE",
			"name":            "runbooks",
			"skip_tls_verify": true,
			"timeout_seconds": float64(20),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "runbooks", cfg.Name)
	assert.Equal(t, TransportSSE, cfg.Transport)
	assert.Equal(t, "tok", cfg.BearerToken)
	assert.True(t, cfg.SkipTLSVerify)
	assert.Equal(t, 20*time.Second, cfg.Timeout)

	cfg, err = ServerConfigFromIntegration(models.Integration{
		Metadata: map[string]any{"url": "https://mcp.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mcp", cfg.Name)
	assert.Equal(t, TransportHTTP, cfg.Transport)

	_, err = ServerConfigFromIntegration(models.Integration{ID: "int-2"})
	assert.Error(t, err)
}

func TestCreateTransport(t *testing.T) {
	tr, err := createTransport(ServerConfig{Transport: TransportHTTP, URL: "http://x/mcp"})
	require.NoError(t, err)
	_, ok := tr.(*mcpsdk.StreamableClientTransport)
	assert.True(t, ok)

	tr, err = createTransport(ServerConfig{Transport: TransportSSE, URL: "http://x/sse"})
	require.NoError(t, err)
	_, ok = tr.(*mcpsdk.SSEClientTransport)
	assert.True(t, ok)

	_, err = createTransport(ServerConfig{Transport: "stdio", URL: "x"})
	assert.ErrorContains(t, err, "unsupported transport")

	_, err = createTransport(ServerConfig{Transport: TransportHTTP})
	assert.ErrorContains(t, err, "requires url")
}

func TestBuildHTTPClient_AddsHeaders(t *testing.T) {
	var gotAuth, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get("X-Tenant")
	}))
	defer srv.Close()

	client := buildHTTPClient(ServerConfig{
		BearerToken: "secret",
		Headers:     map[string]string{"X-Tenant": "acme"},
	})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "acme", gotTenant)
}
