package config

import (
	"os"
	"strings"
	"time"
)

// Config is the resolved service configuration returned by Initialize.
type Config struct {
	configDir string

	System      *SystemConfig           `yaml:"system"`
	Server      *ServerConfig           `yaml:"server"`
	Webhooks    *WebhooksConfig         `yaml:"webhooks"`
	Slack       *SlackConfig            `yaml:"slack"`
	Agent       *AgentConfig            `yaml:"agent"`
	Index       *IndexConfig            `yaml:"index"`
	Vendors     map[string]VendorConfig `yaml:"vendors"`
	Alerts      *AlertsConfig           `yaml:"alerts"`
	Masking     *MaskingConfig          `yaml:"masking"`
	Runbooks    *RunbookConfig          `yaml:"runbooks"`
	Auth        *AuthConfig             `yaml:"auth"`
	Credentials *CredentialsConfig      `yaml:"credentials"`
	Telemetry   *TelemetryConfig        `yaml:"telemetry"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	RefreshableVendors int
	MaskingPatterns    int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	s := Stats{}
	for _, v := range c.Vendors {
		if v.OAuth != nil {
			s.RefreshableVendors++
		}
	}
	if c.Masking != nil {
		s.MaskingPatterns = len(c.Masking.Patterns)
	}
	return s
}

// SystemConfig holds deployment-wide settings.
type SystemConfig struct {
	// Environment is stamped into every RunContext and system event.
	Environment  string `yaml:"environment"`
	DashboardURL string `yaml:"dashboard_url"`
	// TraceURLFormat builds links to the tracing UI. "{trace_id}" is
	// replaced with the answer's trace id.
	TraceURLFormat string `yaml:"trace_url_format"`
}

// TraceURL renders the trace link for traceID, or "" when unconfigured.
func (s *SystemConfig) TraceURL(traceID string) string {
	if s == nil || s.TraceURLFormat == "" {
		return ""
	}
	return strings.ReplaceAll(s.TraceURLFormat, "{trace_id}", traceID)
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string          `yaml:"address"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits webhook intake. Zero disables a limiter.
type RateLimitConfig struct {
	GlobalRequestsPerMinute float64 `yaml:"global_requests_per_minute"`
	PerOrgRequestsPerMinute float64 `yaml:"per_org_requests_per_minute"`
	Burst                   int     `yaml:"burst"`
}

// WebhooksConfig names the env vars holding inbound signing secrets.
type WebhooksConfig struct {
	PagerDutySecretEnv   string `yaml:"pagerduty_secret_env"`
	AfterSignupSecretEnv string `yaml:"after_signup_secret_env"`
}

// PagerDutySecret returns the app-level PagerDuty signing secret.
func (w *WebhooksConfig) PagerDutySecret() string {
	return os.Getenv(w.PagerDutySecretEnv)
}

// AfterSignupSecret returns the shared key the identity provider sends.
func (w *WebhooksConfig) AfterSignupSecret() string {
	return os.Getenv(w.AfterSignupSecretEnv)
}

// SlackConfig holds Slack posting settings. Tokens come from each
// organization's Slack integration, not from here.
type SlackConfig struct {
	// APIURL overrides the Slack Web API base URL (tests, proxies).
	APIURL            string `yaml:"api_url,omitempty"`
	PlaceholderText   string `yaml:"placeholder_text"`
	FeedbackReactions *bool  `yaml:"feedback_reactions,omitempty"`
	// HistoryLimit bounds how many channel messages are scanned for an event.
	HistoryLimit int `yaml:"history_limit"`
}

// ReactionsEnabled reports whether feedback reactions are added to answers.
func (s *SlackConfig) ReactionsEnabled() bool {
	return s.FeedbackReactions == nil || *s.FeedbackReactions
}

// AgentConfig configures the reasoning engine.
type AgentConfig struct {
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxIterations int           `yaml:"max_iterations"`
	Temperature   float32       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens,omitempty"`
}

// APIKey resolves the engine API key from the environment.
func (a *AgentConfig) APIKey() string {
	return os.Getenv(a.APIKeyEnv)
}

// Dispatcher kinds for index builds.
const (
	DispatcherWorker = "worker"
	DispatcherRedis  = "redis"
)

// IndexConfig configures index build dispatch and teardown.
type IndexConfig struct {
	Dispatcher   string        `yaml:"dispatcher"`
	BuilderURL   string        `yaml:"builder_url"`
	WorkerCount  int           `yaml:"worker_count"`
	QueueSize    int           `yaml:"queue_size"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	// StaleAfter fails pending builds with no progress report for this
	// long. Zero disables the sweep.
	StaleAfter    time.Duration  `yaml:"stale_after"`
	SweepInterval time.Duration  `yaml:"sweep_interval"`
	Redis         RedisConfig    `yaml:"redis"`
	Weaviate      WeaviateConfig `yaml:"weaviate"`
}

// RedisConfig locates the build queue list.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	DB          int    `yaml:"db"`
	ListKey     string `yaml:"list_key"`
}

// Password resolves the Redis password from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// WeaviateConfig locates the vector store holding built indexes.
type WeaviateConfig struct {
	Host      string `yaml:"host"`
	Scheme    string `yaml:"scheme"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// APIKey resolves the Weaviate API key from the environment.
func (w WeaviateConfig) APIKey() string {
	if w.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.APIKeyEnv)
}

// VendorConfig holds per-vendor settings. Vendors with OAuth set are
// refreshable: their access tokens expire and are renewed on use.
type VendorConfig struct {
	OAuth *OAuthConfig `yaml:"oauth,omitempty"`
}

// OAuthConfig describes a vendor's refresh-token endpoint.
type OAuthConfig struct {
	TokenURL        string `yaml:"token_url"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
}

// ClientID resolves the OAuth client id.
func (o *OAuthConfig) ClientID() string {
	return os.Getenv(o.ClientIDEnv)
}

// ClientSecret resolves the OAuth client secret.
func (o *OAuthConfig) ClientSecret() string {
	return os.Getenv(o.ClientSecretEnv)
}

// AlertsConfig points at the alerting vendors' REST APIs.
type AlertsConfig struct {
	PagerDutyAPIURL string        `yaml:"pagerduty_api_url"`
	OpsgenieAPIURL  string        `yaml:"opsgenie_api_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// RunbookConfig controls the runbook guidance added to investigations.
// An alert carrying a runbook link wins over DefaultURL, which wins over
// the inline Default.
type RunbookConfig struct {
	DefaultURL     string        `yaml:"default_url,omitempty"`
	Default        string        `yaml:"default,omitempty"`
	AllowedDomains []string      `yaml:"allowed_domains,omitempty"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	GitHubTokenEnv string        `yaml:"github_token_env,omitempty"`
}

// GitHubToken resolves the token used for private runbook repositories.
func (r *RunbookConfig) GitHubToken() string {
	if r.GitHubTokenEnv == "" {
		return ""
	}
	return os.Getenv(r.GitHubTokenEnv)
}

// MaskingConfig controls masking of tool output before it reaches the engine.
type MaskingConfig struct {
	Enabled  *bool            `yaml:"enabled,omitempty"`
	Builtin  []string         `yaml:"builtin,omitempty"`
	Patterns []MaskingPattern `yaml:"patterns,omitempty"`
}

// IsEnabled reports whether masking is on. Masking defaults to on.
func (m *MaskingConfig) IsEnabled() bool {
	return m == nil || m.Enabled == nil || *m.Enabled
}

// MaskingPattern is a user-defined regex with its replacement.
type MaskingPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// AuthConfig names the env vars used to verify callers.
type AuthConfig struct {
	JWTSecretEnv  string `yaml:"jwt_secret_env"`
	ServiceKeyEnv string `yaml:"service_key_env"`
}

// JWTSecret returns the HMAC key for principal tokens.
func (a *AuthConfig) JWTSecret() string {
	return os.Getenv(a.JWTSecretEnv)
}

// ServiceKey returns the key the index builder presents on callbacks.
func (a *AuthConfig) ServiceKey() string {
	return os.Getenv(a.ServiceKeyEnv)
}

// CredentialsConfig names the env var holding the credential cipher key.
type CredentialsConfig struct {
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
}

// EncryptionKey returns the raw key material (32 bytes or 64 hex chars).
func (c *CredentialsConfig) EncryptionKey() string {
	return os.Getenv(c.EncryptionKeyEnv)
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	// OTLPEndpoint enables the gRPC exporter when set (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}
