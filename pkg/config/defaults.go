package config

import "time"

// DefaultConfig returns the built-in configuration. User YAML is merged
// on top of it, so every field here is a fallback.
func DefaultConfig() *Config {
	return &Config{
		System: &SystemConfig{
			Environment:  "development",
			DashboardURL: "http://localhost:5173",
		},
		Server: &ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				GlobalRequestsPerMinute: 600,
				PerOrgRequestsPerMinute: 60,
				Burst:                   10,
			},
		},
		Webhooks: &WebhooksConfig{
			PagerDutySecretEnv:   "PAGERDUTY_WEBHOOK_SECRET",
			AfterSignupSecretEnv: "AFTER_SIGNUP_WEBHOOK_SECRET",
		},
		Slack: &SlackConfig{
			PlaceholderText: ":hourglass_flowing_sand: Investigating this alert, I'll reply in this thread shortly.",
			HistoryLimit:    100,
		},
		Agent: &AgentConfig{
			Model:         "gpt-4o",
			APIKeyEnv:     "OPENAI_API_KEY",
			Timeout:       5 * time.Minute,
			MaxIterations: 15,
			Temperature:   0,
		},
		Index: &IndexConfig{
			Dispatcher:    DispatcherWorker,
			BuilderURL:    "http://localhost:3001",
			WorkerCount:   2,
			QueueSize:     100,
			BuildTimeout:  2 * time.Minute,
			StaleAfter:    time.Hour,
			SweepInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				ListKey: "merlinn:index:builds",
			},
			Weaviate: WeaviateConfig{
				Host:   "localhost:8081",
				Scheme: "http",
			},
		},
		Vendors: map[string]VendorConfig{
			"Confluence": {OAuth: &OAuthConfig{
				TokenURL:        "https://auth.atlassian.com/oauth/token",
				ClientIDEnv:     "ATLASSIAN_CLIENT_ID",
				ClientSecretEnv: "ATLASSIAN_CLIENT_SECRET",
			}},
			"Jira": {OAuth: &OAuthConfig{
				TokenURL:        "https://auth.atlassian.com/oauth/token",
				ClientIDEnv:     "ATLASSIAN_CLIENT_ID",
				ClientSecretEnv: "ATLASSIAN_CLIENT_SECRET",
			}},
			"PagerDuty": {OAuth: &OAuthConfig{
				TokenURL:        "https://identity.pagerduty.com/oauth/token",
				ClientIDEnv:     "PAGERDUTY_CLIENT_ID",
				ClientSecretEnv: "PAGERDUTY_CLIENT_SECRET",
			}},
		},
		Alerts: &AlertsConfig{
			PagerDutyAPIURL: "https://api.pagerduty.com",
			OpsgenieAPIURL:  "https://api.opsgenie.com",
			Timeout:         15 * time.Second,
		},
		Masking: &MaskingConfig{
			Builtin: []string{"credential_fields", "api_key", "password", "token", "private_key", "bearer", "email"},
		},
		Runbooks: &RunbookConfig{
			AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
			CacheTTL:       5 * time.Minute,
			GitHubTokenEnv: "GITHUB_TOKEN",
		},
		Auth: &AuthConfig{
			JWTSecretEnv:  "JWT_SECRET",
			ServiceKeyEnv: "MERLINN_SERVICE_KEY",
		},
		Credentials: &CredentialsConfig{
			EncryptionKeyEnv: "CREDENTIALS_ENCRYPTION_KEY",
		},
		Telemetry: &TelemetryConfig{
			ServiceName: "merlinn",
		},
	}
}
