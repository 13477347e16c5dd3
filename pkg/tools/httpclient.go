package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/merlinn-co/merlinn/pkg/version"
)

const vendorHTTPTimeout = 30 * time.Second

// vendorAPI is a small JSON-over-HTTP client for the query APIs that ship
// no Go client: Coralogix DataPrime and the Jaeger query service.
type vendorAPI struct {
	vendor  string
	baseURL string
	headers map[string]string
	client  *http.Client
}

func newVendorAPI(vendor, baseURL string, headers map[string]string, client *http.Client) *vendorAPI {
	if client == nil {
		client = &http.Client{Timeout: vendorHTTPTimeout}
	}
	return &vendorAPI{
		vendor:  vendor,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  client,
	}
}

// do sends a request and returns the raw body. body is JSON-encoded when
// non-nil.
func (a *vendorAPI) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", a.vendor, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", a.vendor, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", a.vendor, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxOutputBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", a.vendor, err)
	}
	if resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, fmt.Errorf("%s returned %d: %s", a.vendor, resp.StatusCode, strings.TrimSpace(msg))
	}
	return data, nil
}

// getJSON decodes a GET response into v.
func (a *vendorAPI) getJSON(ctx context.Context, path string, v any) error {
	data, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s response: %w", a.vendor, err)
	}
	return nil
}
