package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/merlinn-co/merlinn/pkg/alerts"
	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

const alertDetailsSchema = `{"type":"object","properties":{
	"id":{"type":"string","description":"incident or alert id; defaults to the alert being investigated"}}}`

// CurrentTimeLoader provides the engine with the wall clock so it can
// build absolute time ranges.
func CurrentTimeLoader(_ context.Context, _ []models.Integration, _ models.RunContext) ([]Tool, error) {
	return []Tool{currentTimeTool(time.Now)}, nil
}

func currentTimeTool(now func() time.Time) Tool {
	return &FuncTool{
		ToolName:        "current_time",
		ToolDescription: "Return the current time in UTC (RFC3339) and as a Unix timestamp.",
		Schema:          json.RawMessage(emptyObjectSchema),
		Fn: func(context.Context, json.RawMessage) (string, error) {
			t := now().UTC()
			return toJSON(map[string]any{
				"utc":  t.Format(time.RFC3339),
				"unix": t.Unix(),
			})
		},
	}
}

// AlertDetailsLoader returns a static loader that looks up incidents on
// the organization's alerting vendor. Organizations without PagerDuty or
// Opsgenie get no tool.
func AlertDetailsLoader(cfg *config.AlertsConfig) StaticLoader {
	return func(_ context.Context, integrations []models.Integration, rc models.RunContext) ([]Tool, error) {
		for _, vendor := range []string{models.VendorPagerDuty, models.VendorOpsgenie} {
			in, ok := models.FindIntegration(integrations, vendor)
			if !ok {
				continue
			}
			f, err := alerts.NewFetcher(cfg, in)
			if err != nil {
				return nil, err
			}
			return []Tool{alertDetailsTool(f, rc.EventID)}, nil
		}
		return nil, nil
	}
}

func alertDetailsTool(f alerts.Fetcher, defaultID string) Tool {
	return &FuncTool{
		ToolName:        "get_alert_details",
		ToolDescription: "Fetch an incident from the alerting vendor: title, status, service, tags and custom details.",
		Schema:          json.RawMessage(alertDetailsSchema),
		Fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				ID string `json:"id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if args.ID == "" {
				args.ID = defaultID
			}
			inc, err := f.FetchIncident(ctx, args.ID)
			if err != nil {
				return "", err
			}
			return toJSON(inc)
		},
	}
}
