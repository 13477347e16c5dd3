package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const (
	jaegerFindSchema = `{"type":"object","properties":{
		"service":{"type":"string"},
		"operation":{"type":"string"},
		"lookback":{"type":"string","description":"Jaeger lookback, e.g. 1h (default 1h)"},
		"errors_only":{"type":"boolean"},
		"limit":{"type":"integer","description":"max traces (default 20)"}},
		"required":["service"]}`
	jaegerTraceSchema = `{"type":"object","properties":{"trace_id":{"type":"string"}},"required":["trace_id"]}`
)

// JaegerLoader builds trace tools over the Jaeger query HTTP API.
// Metadata "url"; optional credential "token".
func JaegerLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	base := in.MetadataString("url")
	if base == "" {
		return nil, errors.New("jaeger integration has no url")
	}
	headers := map[string]string{}
	if token := in.Credential("token"); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	j := &jaegerTools{api: newVendorAPI(models.VendorJaeger, base, headers, nil)}
	return []Tool{
		&FuncTool{
			ToolName:        "jaeger_list_services",
			ToolDescription: "List services reporting traces to Jaeger.",
			Schema:          json.RawMessage(emptyObjectSchema),
			Fn:              j.listServices,
		},
		&FuncTool{
			ToolName:        "jaeger_find_traces",
			ToolDescription: "Find recent traces for a service and summarize duration and errors.",
			Schema:          json.RawMessage(jaegerFindSchema),
			Fn:              j.findTraces,
		},
		&FuncTool{
			ToolName:        "jaeger_get_trace",
			ToolDescription: "Get the spans of one trace, slowest first.",
			Schema:          json.RawMessage(jaegerTraceSchema),
			Fn:              j.getTrace,
		},
	}, nil
}

type jaegerTools struct {
	api *vendorAPI
}

type jaegerSpan struct {
	SpanID        string `json:"spanID"`
	OperationName string `json:"operationName"`
	StartTime     int64  `json:"startTime"`
	Duration      int64  `json:"duration"`
	ProcessID     string `json:"processID"`
	Tags          []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	} `json:"tags"`
	References []struct {
		RefType string `json:"refType"`
	} `json:"references"`
}

func (s jaegerSpan) isError() bool {
	for _, t := range s.Tags {
		if t.Key == "error" {
			if b, ok := t.Value.(bool); ok && b {
				return true
			}
			if str, ok := t.Value.(string); ok && str == "true" {
				return true
			}
		}
	}
	return false
}

type jaegerTrace struct {
	TraceID   string       `json:"traceID"`
	Spans     []jaegerSpan `json:"spans"`
	Processes map[string]struct {
		ServiceName string `json:"serviceName"`
	} `json:"processes"`
}

func (j *jaegerTools) listServices(ctx context.Context, _ json.RawMessage) (string, error) {
	var resp struct {
		Data []string `json:"data"`
	}
	if err := j.api.getJSON(ctx, "/api/services", &resp); err != nil {
		return "", err
	}
	sort.Strings(resp.Data)
	return toJSON(resp.Data)
}

type traceSummary struct {
	TraceID     string  `json:"traceId"`
	Root        string  `json:"root"`
	Spans       int     `json:"spans"`
	ErrorSpans  int     `json:"errorSpans"`
	DurationMs  float64 `json:"durationMs"`
	StartMicros int64   `json:"startMicros"`
}

func summarizeTrace(t jaegerTrace) traceSummary {
	s := traceSummary{TraceID: t.TraceID, Spans: len(t.Spans)}
	var minStart, maxEnd int64
	for i, sp := range t.Spans {
		if sp.isError() {
			s.ErrorSpans++
		}
		if len(sp.References) == 0 {
			s.Root = sp.OperationName
		}
		end := sp.StartTime + sp.Duration
		if i == 0 || sp.StartTime < minStart {
			minStart = sp.StartTime
		}
		if end > maxEnd {
			maxEnd = end
		}
	}
	s.StartMicros = minStart
	s.DurationMs = float64(maxEnd-minStart) / 1000
	return s
}

func (j *jaegerTools) findTraces(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Service    string `json:"service"`
		Operation  string `json:"operation"`
		Lookback   string `json:"lookback"`
		ErrorsOnly bool   `json:"errors_only"`
		Limit      int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Service == "" {
		return "", errors.New("service is required")
	}
	if args.Lookback == "" {
		args.Lookback = "1h"
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	q := url.Values{}
	q.Set("service", args.Service)
	q.Set("lookback", args.Lookback)
	q.Set("limit", strconv.Itoa(args.Limit))
	if args.Operation != "" {
		q.Set("operation", args.Operation)
	}
	if args.ErrorsOnly {
		q.Set("tags", `{"error":"true"}`)
	}

	var resp struct {
		Data []jaegerTrace `json:"data"`
	}
	if err := j.api.getJSON(ctx, "/api/traces?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	out := make([]traceSummary, 0, len(resp.Data))
	for _, t := range resp.Data {
		out = append(out, summarizeTrace(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DurationMs > out[b].DurationMs })
	return toJSON(out)
}

func (j *jaegerTools) getTrace(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		TraceID string `json:"trace_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.TraceID == "" {
		return "", errors.New("trace_id is required")
	}

	var resp struct {
		Data []jaegerTrace `json:"data"`
	}
	if err := j.api.getJSON(ctx, "/api/traces/"+url.PathEscape(args.TraceID), &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("trace %s not found", args.TraceID)
	}
	t := resp.Data[0]

	type spanSummary struct {
		Service    string  `json:"service"`
		Operation  string  `json:"operation"`
		DurationMs float64 `json:"durationMs"`
		Error      bool    `json:"error,omitempty"`
	}
	spans := make([]spanSummary, 0, len(t.Spans))
	for _, sp := range t.Spans {
		spans = append(spans, spanSummary{
			Service:    t.Processes[sp.ProcessID].ServiceName,
			Operation:  sp.OperationName,
			DurationMs: float64(sp.Duration) / 1000,
			Error:      sp.isError(),
		})
	}
	sort.SliceStable(spans, func(a, b int) bool { return spans[a].DurationMs > spans[b].DurationMs })
	return toJSON(map[string]any{
		"summary": summarizeTrace(t),
		"spans":   spans,
	})
}
