// Package tools assembles the per-organization toolset the reasoning engine
// may call while investigating an alert.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/merlinn-co/merlinn/pkg/models"
)

// Tool is one function the engine can call.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() json.RawMessage
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Loader builds tools for one vendor integration. Credentials are already
// decrypted.
type Loader func(ctx context.Context, in models.Integration, rc models.RunContext) ([]Tool, error)

// StaticLoader builds tools that do not belong to a single vendor. It sees
// every integration of the organization.
type StaticLoader func(ctx context.Context, integrations []models.Integration, rc models.RunContext) ([]Tool, error)

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *FuncTool) Name() string                { return t.ToolName }
func (t *FuncTool) Description() string         { return t.ToolDescription }
func (t *FuncTool) Parameters() json.RawMessage { return t.Schema }

func (t *FuncTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

// decodeArgs unmarshals tool arguments. Empty arguments leave v untouched.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// toJSON renders a tool result for the engine.
func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// Toolset is a compiled set of tools. Close releases sessions held by
// tools such as MCP clients.
type Toolset []Tool

// Names returns the tool names in order.
func (ts Toolset) Names() []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}

// Find returns the tool called name.
func (ts Toolset) Find(name string) (Tool, bool) {
	for _, t := range ts {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Close closes every tool implementing io.Closer. Closers must tolerate
// being closed more than once.
func (ts Toolset) Close() error {
	var first error
	for _, t := range ts {
		c, ok := unwrap(t).(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
