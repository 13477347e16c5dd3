package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"golang.org/x/oauth2"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const (
	prometheusQuerySchema = `{"type":"object","properties":{
		"query":{"type":"string","description":"PromQL expression"},
		"time":{"type":"string","description":"RFC3339 evaluation time, default now"}},
		"required":["query"]}`
	prometheusRangeSchema = `{"type":"object","properties":{
		"query":{"type":"string","description":"PromQL expression"},
		"lookback":{"type":"string","description":"Go duration to look back from now, e.g. 1h (default 1h)"},
		"step":{"type":"string","description":"Go duration between points, e.g. 1m (default 1m)"}},
		"required":["query"]}`
	emptyObjectSchema = `{"type":"object","properties":{}}`
)

// PrometheusLoader builds PromQL tools from a Prometheus integration.
// Metadata "url" is required; credentials may hold "token" (bearer) or
// "username"/"password" (basic auth).
func PrometheusLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	address := in.MetadataString("url")
	if address == "" {
		return nil, errors.New("prometheus integration has no url")
	}
	client, err := api.NewClient(api.Config{
		Address:      address,
		RoundTripper: prometheusRoundTripper(in),
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return newPrometheusTools(promv1.NewAPI(client), time.Now), nil
}

func prometheusRoundTripper(in models.Integration) http.RoundTripper {
	base := api.DefaultRoundTripper
	if token := in.Credential("token"); token != "" {
		return &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		}
	}
	if user := in.Credential("username"); user != "" {
		return &basicAuthTransport{base: base, username: user, password: in.Credential("password")}
	}
	return base
}

type basicAuthTransport struct {
	base               http.RoundTripper
	username, password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

func newPrometheusTools(v1 promv1.API, now func() time.Time) []Tool {
	return []Tool{
		&FuncTool{
			ToolName:        "prometheus_query",
			ToolDescription: "Evaluate an instant PromQL query against the organization's Prometheus.",
			Schema:          json.RawMessage(prometheusQuerySchema),
			Fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args struct {
					Query string `json:"query"`
					Time  string `json:"time"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				if strings.TrimSpace(args.Query) == "" {
					return "", errors.New("query is required")
				}
				ts := now()
				if args.Time != "" {
					parsed, err := time.Parse(time.RFC3339, args.Time)
					if err != nil {
						return "", fmt.Errorf("invalid time: %w", err)
					}
					ts = parsed
				}
				value, warnings, err := v1.Query(ctx, args.Query, ts)
				if err != nil {
					return "", fmt.Errorf("prometheus query: %w", err)
				}
				return withWarnings(value.String(), warnings), nil
			},
		},
		&FuncTool{
			ToolName:        "prometheus_query_range",
			ToolDescription: "Evaluate a PromQL expression over a recent time range.",
			Schema:          json.RawMessage(prometheusRangeSchema),
			Fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args struct {
					Query    string `json:"query"`
					Lookback string `json:"lookback"`
					Step     string `json:"step"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				if strings.TrimSpace(args.Query) == "" {
					return "", errors.New("query is required")
				}
				lookback, err := parseDurationDefault(args.Lookback, time.Hour)
				if err != nil {
					return "", fmt.Errorf("invalid lookback: %w", err)
				}
				step, err := parseDurationDefault(args.Step, time.Minute)
				if err != nil {
					return "", fmt.Errorf("invalid step: %w", err)
				}
				end := now()
				value, warnings, err := v1.QueryRange(ctx, args.Query, promv1.Range{
					Start: end.Add(-lookback),
					End:   end,
					Step:  step,
				})
				if err != nil {
					return "", fmt.Errorf("prometheus range query: %w", err)
				}
				return withWarnings(value.String(), warnings), nil
			},
		},
		&FuncTool{
			ToolName:        "prometheus_alerts",
			ToolDescription: "List alerts currently pending or firing in Prometheus.",
			Schema:          json.RawMessage(emptyObjectSchema),
			Fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
				result, err := v1.Alerts(ctx)
				if err != nil {
					return "", fmt.Errorf("prometheus alerts: %w", err)
				}
				return toJSON(result.Alerts)
			},
		},
	}
}

func withWarnings(out string, warnings promv1.Warnings) string {
	if len(warnings) == 0 {
		return out
	}
	return out + "\n\nwarnings: " + strings.Join(warnings, "; ")
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}
