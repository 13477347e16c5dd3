package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBuilder posts build tasks to the builder service's /build-index endpoint.
type HTTPBuilder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBuilder creates an HTTPBuilder. timeout bounds each request.
func NewHTTPBuilder(baseURL string, timeout time.Duration) *HTTPBuilder {
	return &HTTPBuilder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Build implements Builder.
func (b *HTTPBuilder) Build(ctx context.Context, task BuildTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal build task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/build-index", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post build task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("builder returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
