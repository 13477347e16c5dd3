package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const esSearchSchema = `{"type":"object","properties":{
	"index":{"type":"string","description":"index or pattern, e.g. logs-*"},
	"query":{"type":"string","description":"Lucene query string"},
	"lookback":{"type":"string","description":"Go duration on @timestamp, e.g. 30m (default 1h)"},
	"size":{"type":"integer","description":"max hits (default 20, max 100)"}},
	"required":["query"]}`

// ElasticsearchLoader builds a log search tool. Metadata "url" (comma
// separated for several nodes) and "index" (default pattern); credentials
// "api_key" or "username"/"password".
func ElasticsearchLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	raw := in.MetadataString("url")
	if raw == "" {
		return nil, errors.New("elasticsearch integration has no url")
	}
	cfg := elasticsearch.Config{
		Addresses: strings.Split(raw, ","),
		APIKey:    in.Credential("api_key"),
		Username:  in.Credential("username"),
		Password:  in.Credential("password"),
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	defaultIndex := in.MetadataString("index")

	return []Tool{&FuncTool{
		ToolName:        "elasticsearch_search",
		ToolDescription: "Search logs in Elasticsearch with a Lucene query string, newest first.",
		Schema:          json.RawMessage(esSearchSchema),
		Fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Index    string `json:"index"`
				Query    string `json:"query"`
				Lookback string `json:"lookback"`
				Size     int    `json:"size"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if args.Index == "" {
				args.Index = defaultIndex
			}
			if args.Index == "" {
				return "", errors.New("index is required")
			}
			body, err := buildESQuery(args.Query, args.Lookback, args.Size)
			if err != nil {
				return "", err
			}

			res, err := client.Search(
				client.Search.WithContext(ctx),
				client.Search.WithIndex(args.Index),
				client.Search.WithBody(bytes.NewReader(body)),
			)
			if err != nil {
				return "", fmt.Errorf("elasticsearch search: %w", err)
			}
			defer res.Body.Close()
			if res.IsError() {
				return "", fmt.Errorf("elasticsearch error response: %s", res.String())
			}

			var result struct {
				Hits struct {
					Hits []struct {
						Index  string          `json:"_index"`
						Source json.RawMessage `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			}
			if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
				return "", fmt.Errorf("decode elasticsearch response: %w", err)
			}
			if len(result.Hits.Hits) == 0 {
				return "no hits", nil
			}
			lines := make([]string, 0, len(result.Hits.Hits))
			for _, h := range result.Hits.Hits {
				lines = append(lines, string(h.Source))
			}
			return strings.Join(lines, "\n"), nil
		},
	}}, nil
}

func buildESQuery(query, lookback string, size int) ([]byte, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	if lookback == "" {
		lookback = "1h"
	}
	if _, err := parseDurationDefault(lookback, 0); err != nil {
		return nil, fmt.Errorf("invalid lookback: %w", err)
	}
	q := map[string]any{
		"size": size,
		"sort": []any{map[string]any{"@timestamp": map[string]any{"order": "desc", "unmapped_type": "date"}}},
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{map[string]any{"query_string": map[string]any{"query": query}}},
				"filter": []any{map[string]any{"range": map[string]any{
					"@timestamp": map[string]any{"gte": "now-" + esDuration(lookback)},
				}}},
			},
		},
	}
	return json.Marshal(q)
}

// esDuration converts a Go duration to Elasticsearch date math, in seconds.
func esDuration(s string) string {
	d, _ := parseDurationDefault(s, 0)
	return fmt.Sprintf("%ds", int64(d.Seconds()))
}
