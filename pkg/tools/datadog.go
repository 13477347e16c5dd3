package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV1"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/version"
)

const (
	datadogLogsSchema = `{"type":"object","properties":{
		"query":{"type":"string","description":"Datadog log search query, e.g. service:checkout status:error"},
		"lookback":{"type":"string","description":"Go duration (default 1h)"},
		"limit":{"type":"integer","description":"max logs (default 25, max 100)"}},
		"required":["query"]}`
	datadogMetricsSchema = `{"type":"object","properties":{
		"query":{"type":"string","description":"Datadog metric query, e.g. avg:system.cpu.user{service:checkout}"},
		"lookback":{"type":"string","description":"Go duration (default 1h)"}},
		"required":["query"]}`
)

// DataDogLoader builds log and metric tools. Credentials "api_key" and
// "app_key"; metadata "site" (default datadoghq.com) or "api_url".
func DataDogLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	apiKey, appKey := in.Credential("api_key"), in.Credential("app_key")
	if apiKey == "" || appKey == "" {
		return nil, errors.New("datadog integration needs api_key and app_key")
	}
	site := in.MetadataString("site")
	if site == "" {
		site = "datadoghq.com"
	}

	cfg := datadog.NewConfiguration()
	cfg.HTTPClient = &http.Client{Timeout: vendorHTTPTimeout}
	cfg.UserAgent = version.UserAgent()
	if base := in.MetadataString("api_url"); base != "" {
		cfg.Servers = datadog.ServerConfigurations{{URL: strings.TrimRight(base, "/")}}
	}
	client := datadog.NewAPIClient(cfg)

	dd := &datadogTools{
		logs:    datadogV2.NewLogsApi(client),
		metrics: datadogV1.NewMetricsApi(client),
		keys: map[string]datadog.APIKey{
			"apiKeyAuth": {Key: apiKey},
			"appKeyAuth": {Key: appKey},
		},
		site: site,
		now:  time.Now,
	}
	return []Tool{
		&FuncTool{
			ToolName:        "datadog_search_logs",
			ToolDescription: "Search Datadog logs, newest first.",
			Schema:          json.RawMessage(datadogLogsSchema),
			Fn:              dd.searchLogs,
		},
		&FuncTool{
			ToolName:        "datadog_query_metrics",
			ToolDescription: "Query a Datadog metric timeseries over a recent window.",
			Schema:          json.RawMessage(datadogMetricsSchema),
			Fn:              dd.queryMetrics,
		},
	}, nil
}

type datadogTools struct {
	logs    *datadogV2.LogsApi
	metrics *datadogV1.MetricsApi
	keys    map[string]datadog.APIKey
	site    string
	now     func() time.Time
}

// withAuth attaches the keys and site the client reads from the context.
func (d *datadogTools) withAuth(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, datadog.ContextAPIKeys, d.keys)
	return context.WithValue(ctx, datadog.ContextServerVariables, map[string]string{"site": d.site})
}

func datadogError(err error, resp *http.Response) error {
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %w", models.VendorDataDog, resp.StatusCode, err)
	}
	return fmt.Errorf("%s request: %w", models.VendorDataDog, err)
}

type datadogLogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service,omitempty"`
	Host      string    `json:"host,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
}

func (d *datadogTools) searchLogs(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query    string `json:"query"`
		Lookback string `json:"lookback"`
		Limit    int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	lookback, err := parseDurationDefault(args.Lookback, time.Hour)
	if err != nil {
		return "", fmt.Errorf("invalid lookback: %w", err)
	}
	if args.Limit <= 0 {
		args.Limit = 25
	}
	if args.Limit > 100 {
		args.Limit = 100
	}

	now := d.now().UTC()
	body := datadogV2.LogsListRequest{
		Filter: &datadogV2.LogsQueryFilter{
			Query: datadog.PtrString(args.Query),
			From:  datadog.PtrString(now.Add(-lookback).Format(time.RFC3339)),
			To:    datadog.PtrString(now.Format(time.RFC3339)),
		},
		Page: &datadogV2.LogsListRequestPage{Limit: datadog.PtrInt32(int32(args.Limit))},
		Sort: datadogV2.LOGSSORT_TIMESTAMP_DESCENDING.Ptr(),
	}
	resp, httpResp, err := d.logs.ListLogs(d.withAuth(ctx), *datadogV2.NewListLogsOptionalParameters().WithBody(body))
	if err != nil {
		return "", datadogError(err, httpResp)
	}
	if len(resp.Data) == 0 {
		return "no logs matched", nil
	}
	out := make([]datadogLogLine, 0, len(resp.Data))
	for _, l := range resp.Data {
		attrs := l.GetAttributes()
		out = append(out, datadogLogLine{
			Timestamp: attrs.GetTimestamp(),
			Service:   attrs.GetService(),
			Host:      attrs.GetHost(),
			Status:    attrs.GetStatus(),
			Message:   attrs.GetMessage(),
		})
	}
	return toJSON(out)
}

type datadogSeries struct {
	Metric    string       `json:"metric"`
	Scope     string       `json:"scope"`
	Pointlist [][2]float64 `json:"pointlist"`
}

func (d *datadogTools) queryMetrics(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query    string `json:"query"`
		Lookback string `json:"lookback"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	lookback, err := parseDurationDefault(args.Lookback, time.Hour)
	if err != nil {
		return "", fmt.Errorf("invalid lookback: %w", err)
	}

	now := d.now()
	resp, httpResp, err := d.metrics.QueryMetrics(d.withAuth(ctx), now.Add(-lookback).Unix(), now.Unix(), args.Query)
	if err != nil {
		return "", datadogError(err, httpResp)
	}

	out := make([]datadogSeries, 0, len(resp.Series))
	for _, s := range resp.Series {
		series := datadogSeries{Metric: s.GetMetric(), Scope: s.GetScope()}
		for _, p := range s.GetPointlist() {
			// Points are [timestamp ms, value]; null values are gaps.
			if len(p) < 2 || p[0] == nil || p[1] == nil {
				continue
			}
			series.Pointlist = append(series.Pointlist, [2]float64{*p[0], *p[1]})
		}
		out = append(out, series)
	}
	return toJSON(out)
}
