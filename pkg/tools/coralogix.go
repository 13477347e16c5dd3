package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const coralogixSchema = `{"type":"object","properties":{
	"query":{"type":"string","description":"Lucene query over Coralogix logs"},
	"lookback":{"type":"string","description":"Go duration (default 1h)"},
	"limit":{"type":"integer","description":"max results (default 50)"}},
	"required":["query"]}`

// CoralogixLoader builds a log search tool over the DataPrime query API.
// Credentials "api_key"; metadata "region_domain", e.g. eu2.coralogix.com.
func CoralogixLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	apiKey := in.Credential("api_key")
	if apiKey == "" {
		return nil, errors.New("coralogix integration has no api_key")
	}
	base := in.MetadataString("api_url")
	if base == "" {
		domain := in.MetadataString("region_domain")
		if domain == "" {
			return nil, errors.New("coralogix integration has no region_domain")
		}
		base = "https://ng-api-http." + domain
	}
	api := newVendorAPI(models.VendorCoralogix, base, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, nil)

	return []Tool{&FuncTool{
		ToolName:        "coralogix_search_logs",
		ToolDescription: "Search Coralogix logs with a Lucene query.",
		Schema:          json.RawMessage(coralogixSchema),
		Fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
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
				args.Limit = 50
			}

			now := time.Now().UTC()
			body := map[string]any{
				"query": args.Query,
				"metadata": map[string]any{
					"syntax":    "QUERY_SYNTAX_LUCENE",
					"tier":      "TIER_FREQUENT_SEARCH",
					"startDate": now.Add(-lookback).Format(time.RFC3339),
					"endDate":   now.Format(time.RFC3339),
					"limit":     args.Limit,
				},
			}
			data, err := api.do(ctx, http.MethodPost, "/api/v1/dataprime/query", body)
			if err != nil {
				return "", err
			}
			return extractCoralogixResults(data), nil
		},
	}}, nil
}

// extractCoralogixResults flattens the NDJSON stream to one user data
// record per line. Lines that are not results (query ids, warnings) are
// dropped.
func extractCoralogixResults(data []byte) string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg struct {
			Result *struct {
				Results []struct {
					UserData string `json:"userData"`
				} `json:"results"`
			} `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Result == nil {
			continue
		}
		for _, r := range msg.Result.Results {
			lines = append(lines, r.UserData)
		}
	}
	if len(lines) == 0 {
		return "no logs matched"
	}
	return strings.Join(lines, "\n")
}
