package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/merlinn-co/merlinn/pkg/masking"
	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// ErrToolLoad is wrapped by every loader failure surfaced from Compile.
var ErrToolLoad = errors.New("tool load failed")

// LoadError identifies the loader that failed.
type LoadError struct {
	// Vendor is empty for static loaders.
	Vendor string
	Index  int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Vendor == "" {
		return fmt.Sprintf("%v: static loader %d: %v", ErrToolLoad, e.Index, e.Err)
	}
	return fmt.Sprintf("%v: %s loader %d: %v", ErrToolLoad, e.Vendor, e.Index, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrToolLoad, e.Err} }

// Registry maps vendor names to tool loaders. Adding a vendor is a
// Register call.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string][]Loader
	static  []StaticLoader
	masker  *masking.Service
}

// NewRegistry creates an empty Registry. masker may be nil (no masking).
func NewRegistry(masker *masking.Service) *Registry {
	return &Registry{
		loaders: make(map[string][]Loader),
		masker:  masker,
	}
}

// Register appends loaders for vendor.
func (r *Registry) Register(vendor string, loaders ...Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[vendor] = append(r.loaders[vendor], loaders...)
}

// RegisterStatic appends loaders that run for every organization.
func (r *Registry) RegisterStatic(loaders ...StaticLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = append(r.static, loaders...)
}

// Vendors returns the registered vendor names, sorted.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for v := range r.loaders {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Compile runs every loader whose vendor has an integration, plus the static
// loaders, concurrently. The first loader error cancels the rest and fails
// the compile; no partial toolset is returned. Vendors without an
// integration contribute nothing. Tools are sorted by name and duplicate
// names keep the first.
func (r *Registry) Compile(ctx context.Context, integrations []models.Integration, rc models.RunContext) (Toolset, error) {
	start := time.Now()
	defer func() {
		metrics.ToolCompileDuration.Observe(time.Since(start).Seconds())
	}()

	r.mu.RLock()
	loaders := make(map[string][]Loader, len(r.loaders))
	for v, ls := range r.loaders {
		loaders[v] = ls
	}
	static := append([]StaticLoader(nil), r.static...)
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		results Toolset
	)
	collect := func(ts []Tool) {
		mu.Lock()
		results = append(results, ts...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for vendor, ls := range loaders {
		in, ok := models.FindIntegration(integrations, vendor)
		if !ok {
			continue
		}
		for i, load := range ls {
			g.Go(func() error {
				ts, err := load(gctx, in, rc)
				if err != nil {
					return &LoadError{Vendor: vendor, Index: i, Err: err}
				}
				collect(ts)
				return nil
			})
		}
	}
	for i, load := range static {
		g.Go(func() error {
			ts, err := load(gctx, integrations, rc)
			if err != nil {
				return &LoadError{Index: i, Err: err}
			}
			collect(ts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Loaders that succeeded may hold sessions.
		_ = results.Close()
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Name() < results[j].Name() })
	out := make(Toolset, 0, len(results))
	seen := make(map[string]bool, len(results))
	var dropped []Tool
	for _, t := range results {
		if seen[t.Name()] {
			slog.Warn("Duplicate tool name, keeping first",
				"tool", t.Name(),
				"organization_id", rc.OrganizationID)
			dropped = append(dropped, t)
			continue
		}
		seen[t.Name()] = true
		out = append(out, &managedTool{Tool: t, masker: r.masker})
	}
	closeDropped(out, dropped)

	slog.Debug("Compiled toolset",
		"organization_id", rc.OrganizationID,
		"event_id", rc.EventID,
		"tools", len(out))
	return out, nil
}

// managedTool masks and truncates output and records call metrics.
type managedTool struct {
	Tool
	masker *masking.Service
}

func (t *managedTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	out, err := t.Tool.Call(ctx, args)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(t.Name(), "error").Inc()
		return "", err
	}
	metrics.ToolCallsTotal.WithLabelValues(t.Name(), "ok").Inc()
	out = t.masker.MaskToolResult(out, t.Name())
	return truncateAtLineBoundary(out, MaxOutputBytes), nil
}

// closeDropped releases sessions held only by dropped tools. A session
// shared with a kept tool stays open.
func closeDropped(kept Toolset, dropped []Tool) {
	if len(dropped) == 0 {
		return
	}
	inUse := make(map[io.Closer]bool, len(kept))
	for _, t := range kept {
		if c := closerOf(t); c != nil {
			inUse[c] = true
		}
	}
	for _, t := range dropped {
		c := closerOf(t)
		if c == nil || inUse[c] {
			continue
		}
		inUse[c] = true
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close dropped tool", "tool", t.Name(), "error", err)
		}
	}
}

// closerOf returns what closing t releases. Tools of one MCP server share
// its client, so the client is returned for them.
func closerOf(t Tool) io.Closer {
	switch v := unwrap(t).(type) {
	case *mcpTool:
		return v.client
	case io.Closer:
		return v
	}
	return nil
}

func unwrap(t Tool) Tool {
	if m, ok := t.(*managedTool); ok {
		return m.Tool
	}
	return t
}
