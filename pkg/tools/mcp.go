package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/merlinn-co/merlinn/pkg/mcp"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// Function names the engine accepts.
var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

const maxToolNameLength = 64

// MCPLoader connects to the organization's remote MCP server and exposes
// each server tool as "<server>_<tool>". The session stays open until the
// toolset is closed.
func MCPLoader(ctx context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	cfg, err := mcp.ServerConfigFromIntegration(in)
	if err != nil {
		return nil, err
	}
	client, err := mcp.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect MCP server %q: %w", cfg.Name, err)
	}
	remote, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("list MCP tools on %q: %w", cfg.Name, err)
	}

	out := make([]Tool, 0, len(remote))
	for _, t := range remote {
		out = append(out, &mcpTool{
			client:      client,
			name:        mcpToolName(cfg.Name, t.Name),
			remoteName:  t.Name,
			description: t.Description,
			schema:      mcp.MarshalSchema(t.InputSchema),
		})
	}
	if len(out) == 0 {
		_ = client.Close()
	}
	return out, nil
}

// mcpCaller is the part of mcp.Client a tool needs.
type mcpCaller interface {
	CallTool(ctx context.Context, toolName string, args json.RawMessage) (*mcp.CallResult, error)
	Close() error
}

type mcpTool struct {
	client      mcpCaller
	name        string
	remoteName  string
	description string
	schema      json.RawMessage
}

func (t *mcpTool) Name() string                { return t.name }
func (t *mcpTool) Description() string         { return t.description }
func (t *mcpTool) Parameters() json.RawMessage { return t.schema }

func (t *mcpTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	res, err := t.client.CallTool(ctx, t.remoteName, args)
	if err != nil {
		return "", err
	}
	if res.IsError {
		if res.Content == "" {
			return "", errors.New("MCP tool reported an error")
		}
		return "", fmt.Errorf("MCP tool error: %s", res.Content)
	}
	return res.Content, nil
}

// Close ends the shared session. Every tool of a server closes the same
// client, which tolerates repeated closes.
func (t *mcpTool) Close() error { return t.client.Close() }

func mcpToolName(server, tool string) string {
	name := invalidToolChars.ReplaceAllString(strings.ToLower(server)+"_"+tool, "_")
	if len(name) > maxToolNameLength {
		name = name[:maxToolNameLength]
	}
	return name
}
