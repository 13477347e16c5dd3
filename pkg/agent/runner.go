// Package agent runs the reasoning engine over an alert prompt and the
// organization's toolset.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/telemetry"
	"github.com/merlinn-co/merlinn/pkg/tools"
)

const tracerName = "github.com/merlinn-co/merlinn/pkg/agent"

// ChatClient is the engine API. *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient creates an engine client from config. BaseURL targets any
// OpenAI-compatible endpoint.
func NewOpenAIClient(cfg *config.AgentConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey())
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(oc)
}

// Request is one investigation.
type Request struct {
	Prompt string
	// Template is the system prompt template; empty uses InvestigationTemplate.
	Template   string
	Tools      tools.Toolset
	RunContext models.RunContext
	// Runbook is optional guidance added to the system prompt.
	Runbook string
}

// AnswerCallback receives the final answer. Its error is returned from Run
// unchanged.
type AnswerCallback func(ctx context.Context, answer string, ac models.AnswerContext) error

// Runner drives the tool-calling loop.
type Runner struct {
	client ChatClient
	cfg    *config.AgentConfig
	system *config.SystemConfig
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracer = tp.Tracer(tracerName) }
}

// NewRunner creates a Runner.
func NewRunner(client ChatClient, cfg *config.AgentConfig, system *config.SystemConfig, opts ...Option) *Runner {
	if client == nil {
		panic("NewRunner: client must not be nil")
	}
	if cfg == nil {
		panic("NewRunner: cfg must not be nil")
	}
	r := &Runner{
		client: client,
		cfg:    cfg,
		system: system,
		tracer: telemetry.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run investigates req and hands the answer to callback. Engine errors and
// timeouts wrap services.ErrAgentRunFailed.
func (r *Runner) Run(ctx context.Context, req Request, callback AnswerCallback) (err error) {
	start := r.now()
	status := "ok"
	defer func() {
		metrics.AgentRunDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	rc := req.RunContext
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		telemetry.OrganizationID.String(rc.OrganizationID),
		telemetry.EventID.String(rc.EventID),
		telemetry.TriggerContext.String(rc.Context),
	))
	defer span.End()

	log := slog.With("organization_id", rc.OrganizationID, "event_id", rc.EventID)

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	answer, err := r.investigate(runCtx, req, span)
	if err != nil {
		status = "failed"
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			status = "timeout"
			err = fmt.Errorf("engine timed out after %s: %w", r.cfg.Timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
		log.Error("Agent run failed", "error", err)
		return fmt.Errorf("%w: %w", services.ErrAgentRunFailed, err)
	}

	ac := newAnswerContext(span, r.system)
	log.Info("Agent produced answer",
		"trace_id", ac.TraceID(),
		"answer_length", len(answer),
		"duration", time.Since(start))
	return callback(ctx, answer, ac)
}

func (r *Runner) investigate(ctx context.Context, req Request, span trace.Span) (string, error) {
	system, err := RenderSystemPrompt(req.Template, PromptData{
		OrganizationName: req.RunContext.OrganizationName,
		Env:              req.RunContext.Env,
		Now:              r.now().UTC().Format(time.RFC3339),
		Tools:            req.Tools.Names(),
		Runbook:          req.Runbook,
	})
	if err != nil {
		return "", err
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}
	defs := toolDefinitions(req.Tools)

	maxIter := r.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	state := &IterationState{MaxIterations: maxIter}
	defer func() {
		span.SetAttributes(
			attribute.Int("agent.iterations", state.CurrentIteration),
			attribute.Int("agent.tool_calls", state.ToolCalls),
		)
	}()

	for state.CurrentIteration < maxIter {
		state.CurrentIteration++

		resp, err := r.generate(ctx, messages, defs)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return "", err
			}
			state.RecordFailure(err.Error())
			slog.Warn("Engine call failed",
				"iteration", state.CurrentIteration, "consecutive_failures", state.ConsecutiveFailures, "error", err)
			if state.ShouldAbort() {
				return "", fmt.Errorf("engine failed %d times in a row: %w", state.ConsecutiveFailures, err)
			}
			continue
		}
		state.RecordSuccess()

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		for _, tc := range msg.ToolCalls {
			state.ToolCalls++
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    r.executeToolCall(ctx, req.Tools, tc),
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
	}

	// Budget spent while the engine still wanted tools.
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: forceConclusionPrompt,
	})
	resp, err := r.generate(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// generate performs one engine call under its own span.
func (r *Runner) generate(ctx context.Context, messages []openai.ChatCompletionMessage, defs []openai.Tool) (openai.ChatCompletionResponse, error) {
	ctx, span := r.tracer.Start(ctx, "gen_ai.chat", trace.WithAttributes(
		telemetry.LLMRequestAttributes("openai", r.cfg.Model, float64(r.cfg.Temperature), r.cfg.MaxTokens)...,
	))
	defer span.End()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		Messages:    messages,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Tools:       defs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine call failed")
		return resp, fmt.Errorf("engine call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return resp, errors.New("engine call: no choices returned")
	}

	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetAttributes(
		telemetry.GenAIResponseID.String(resp.ID),
		telemetry.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)),
	)
	return resp, nil
}

// executeToolCall runs one call and renders its outcome for the engine.
// Failures are reported back as text so the engine can adjust.
func (r *Runner) executeToolCall(ctx context.Context, ts tools.Toolset, tc openai.ToolCall) string {
	name := tc.Function.Name
	ctx, span := r.tracer.Start(ctx, "gen_ai.execute_tool", trace.WithAttributes(telemetry.GenAIToolName.String(name)))
	defer span.End()

	tool, ok := ts.Find(name)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return fmt.Sprintf("Error: tool %q does not exist. Available tools: %v", name, ts.Names())
	}

	var args json.RawMessage
	if tc.Function.Arguments != "" {
		args = json.RawMessage(tc.Function.Arguments)
	}
	out, err := tool.Call(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		slog.Debug("Tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing tool: %s", err.Error())
	}
	if out == "" {
		return "(no output)"
	}
	return out
}

func toolDefinitions(ts tools.Toolset) []openai.Tool {
	if len(ts) == 0 {
		return nil
	}
	defs := make([]openai.Tool, 0, len(ts))
	for _, t := range ts {
		params := t.Parameters()
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return defs
}

// retryable reports whether an engine error may succeed on a second try.
// Client errors other than rate limiting will not.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
