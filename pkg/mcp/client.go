// Package mcp connects to an organization's remote MCP server and exposes
// its tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/merlinn-co/merlinn/pkg/version"
)

// Client holds one MCP session. It lives for a single triage run.
// Safe for concurrent use: the engine may call several tools at once.
type Client struct {
	name string
	dial func() (mcpsdk.Transport, error)

	mu      sync.RWMutex
	session *mcpsdk.ClientSession

	toolCache   []*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Serializes session recreation.
	reinitMu sync.Mutex

	logger *slog.Logger
}

// Connect opens a session to the server described by cfg.
func Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	return connect(ctx, cfg.Name, func() (mcpsdk.Transport, error) {
		return createTransport(cfg)
	})
}

func connect(ctx context.Context, name string, dial func() (mcpsdk.Transport, error)) (*Client, error) {
	c := &Client{
		name:   name,
		dial:   dial,
		logger: slog.Default().With("component", "mcp-client", "server", name),
	}
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// initialize opens a new session. Caller must not hold mu.
func (c *Client) initialize(ctx context.Context) error {
	transport, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", c.name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", c.name, err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.Info("MCP server connected")
	return nil
}

// Name returns the server name tools are prefixed with.
func (c *Client) Name() string { return c.name }

// ListTools returns the server's tools. The list is cached for the life of
// the Client.
func (c *Client) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if c.toolCache != nil {
		cached := c.toolCache
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", c.name, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache = tools
	c.toolCacheMu.Unlock()
	return tools, nil
}

// CallResult is a tool's text output.
type CallResult struct {
	Content string
	IsError bool
}

// CallTool executes a tool. Transport failures are retried once after a
// jittered backoff, recreating the session when the connection broke.
func (c *Client) CallTool(ctx context.Context, toolName string, args json.RawMessage) (*CallResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName}
	if len(args) > 0 && string(args) != "null" {
		params.Arguments = args
	} else {
		params.Arguments = map[string]any{}
	}

	result, err := c.callToolOnce(ctx, params)
	if err == nil {
		return toCallResult(result), nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", c.name, err)
		}
	}

	result, err = c.callToolOnce(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", c.name, toolName, err)
	}
	return toCallResult(result), nil
}

func (c *Client) callToolOnce(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (c *Client) currentSession() (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("no session for server %q", c.name)
	}
	return c.session, nil
}

// recreateSession tears down the session and opens a new one. Two racing
// callers may both recreate; the extra reconnect is harmless.
func (c *Client) recreateSession(ctx context.Context) error {
	c.reinitMu.Lock()
	defer c.reinitMu.Unlock()

	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.mu.Unlock()

	c.toolCacheMu.Lock()
	c.toolCache = nil
	c.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return c.initialize(reinitCtx)
}

// Close ends the session. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	if err != nil {
		return fmt.Errorf("close session %q: %w", c.name, err)
	}
	return nil
}

// toCallResult concatenates the text content of a result. Non-text content
// (images, embedded resources) is skipped.
func toCallResult(result *mcpsdk.CallToolResult) *CallResult {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", content))
		}
	}
	return &CallResult{Content: strings.Join(parts, "\n"), IsError: result.IsError}
}

// MarshalSchema serializes a tool's InputSchema, defaulting to an empty
// object schema.
func MarshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}
