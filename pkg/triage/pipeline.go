// Package triage runs an alert webhook through to a threaded answer:
// verification, status post, tool compile, agent run, answer delivery, and
// the answer_created event.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/merlinn-co/merlinn/pkg/agent"
	"github.com/merlinn-co/merlinn/pkg/alerts"
	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/slack"
	"github.com/merlinn-co/merlinn/pkg/tools"
	"github.com/merlinn-co/merlinn/pkg/webhook"
)

// Gateway authenticates and contextualizes an inbound webhook.
type Gateway interface {
	Handle(ctx context.Context, in webhook.Inbound) (*webhook.Event, error)
}

// ConversationBinder threads status, answers, and failures under the alert
// message.
type ConversationBinder interface {
	BindInitialStatus(ctx context.Context, channelID, eventID string) (slack.MessageHandle, error)
	PostAnswer(ctx context.Context, handle slack.MessageHandle, answer slack.Answer) (slack.Delivery, error)
	PostFailure(ctx context.Context, handle slack.MessageHandle, reason string) error
}

// BinderOpener returns the binder for an organization's chat integration
// and the channel its alerts arrive in.
type BinderOpener func(in models.Integration) (ConversationBinder, string, error)

// SlackOpener adapts a slack.Factory.
func SlackOpener(f *slack.Factory) BinderOpener {
	return func(in models.Integration) (ConversationBinder, string, error) {
		b, channel, err := f.ForIntegration(in)
		if err != nil {
			return nil, "", err
		}
		return b, channel, nil
	}
}

// FetcherFactory returns the incident client for an alerting integration.
type FetcherFactory func(in models.Integration) (alerts.Fetcher, error)

// ToolCompiler builds the toolset for one run.
type ToolCompiler interface {
	Compile(ctx context.Context, integrations []models.Integration, rc models.RunContext) (tools.Toolset, error)
}

// AgentRunner runs the investigation.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request, callback agent.AnswerCallback) error
}

// UsageRecorder counts a completed alert investigation against the plan.
type UsageRecorder interface {
	Increment(ctx context.Context, fieldCode, organizationID string) error
}

// RunbookResolver finds runbook guidance for an incident.
type RunbookResolver interface {
	Resolve(ctx context.Context, inc *alerts.Incident) (string, error)
}

// Publisher is the event bus.
type Publisher interface {
	Publish(event models.SystemEvent) bool
}

// Result summarizes a finished investigation.
type Result struct {
	EventID   string
	TraceID   string
	TraceURL  string
	MessageTS string
}

// Pipeline wires the triage steps. Steps run strictly in order and the
// first failure aborts the rest.
type Pipeline struct {
	gateway   Gateway
	openBind  BinderOpener
	fetchers  FetcherFactory
	compiler  ToolCompiler
	runner    AgentRunner
	usage     UsageRecorder
	publisher Publisher
	runbooks  RunbookResolver
	template  string
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTemplate overrides the agent system prompt template.
func WithTemplate(tmpl string) Option {
	return func(p *Pipeline) { p.template = tmpl }
}

// WithFetcherFactory overrides how incident clients are built.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(p *Pipeline) { p.fetchers = f }
}

// WithRunbooks adds runbook guidance to every investigation. Lookup
// failures are logged and the run continues without it.
func WithRunbooks(r RunbookResolver) Option {
	return func(p *Pipeline) { p.runbooks = r }
}

// NewPipeline creates a Pipeline. usage and publisher may be nil.
func NewPipeline(gateway Gateway, openBind BinderOpener, compiler ToolCompiler, runner AgentRunner,
	usage UsageRecorder, publisher Publisher, alertsCfg *config.AlertsConfig, opts ...Option) *Pipeline {
	if gateway == nil {
		panic("NewPipeline: gateway must not be nil")
	}
	if openBind == nil {
		panic("NewPipeline: openBind must not be nil")
	}
	if compiler == nil {
		panic("NewPipeline: compiler must not be nil")
	}
	if runner == nil {
		panic("NewPipeline: runner must not be nil")
	}
	p := &Pipeline{
		gateway:   gateway,
		openBind:  openBind,
		compiler:  compiler,
		runner:    runner,
		usage:     usage,
		publisher: publisher,
		fetchers: func(in models.Integration) (alerts.Fetcher, error) {
			return alerts.NewFetcher(alertsCfg, in)
		},
		logger: slog.Default().With("component", "triage"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs the full flow for one webhook delivery. The returned error is
// a services error suitable for HTTP mapping.
func (p *Pipeline) Handle(ctx context.Context, in webhook.Inbound) (*Result, error) {
	event, err := p.gateway.Handle(ctx, in)
	if err != nil {
		return nil, err
	}
	rc := event.RunContext
	log := p.logger.With("organization_id", rc.OrganizationID, "event_id", rc.EventID, "vendor", in.Vendor)

	chat, ok := event.Integration(models.VendorSlack)
	if !ok {
		return nil, &services.IntegrationNotFoundError{Vendor: models.VendorSlack}
	}
	binder, channelID, err := p.openBind(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to open slack binder: %w", err)
	}

	handle, err := binder.BindInitialStatus(ctx, channelID, event.ExternalEventID)
	if err != nil {
		log.Warn("Could not bind alert to a Slack message", "channel_id", channelID, "error", err)
		if errors.Is(err, slack.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: %w", services.ErrMessageNotFound, err)
		}
		return nil, fmt.Errorf("%w: failed to post initial status: %w", services.ErrExternalDeliveryFailed, err)
	}

	result, err := p.investigate(ctx, event, in.Vendor, binder, handle)
	if err != nil {
		p.notifyFailure(ctx, binder, handle, err, log)
		return nil, err
	}

	if p.usage != nil {
		if err := p.usage.Increment(ctx, models.PlanFieldAlerts, rc.OrganizationID); err != nil {
			log.Warn("Failed to record alert usage", "error", err)
		}
	}
	log.Info("Alert investigation delivered", "trace_id", result.TraceID, "message_ts", result.MessageTS)
	return result, nil
}

func (p *Pipeline) investigate(ctx context.Context, event *webhook.Event, vendor string,
	binder ConversationBinder, handle slack.MessageHandle) (*Result, error) {
	rc := event.RunContext

	source, ok := event.Integration(vendor)
	if !ok {
		return nil, &services.IntegrationNotFoundError{Vendor: vendor}
	}
	fetcher, err := p.fetchers(source)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", vendor, err)
	}
	prompt, incident, err := alerts.BuildPrompt(ctx, fetcher, event.ExternalEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt for %s: %w", event.ExternalEventID, err)
	}
	runbook := p.runbook(ctx, rc.EventID, incident)

	toolset, err := p.compiler.Compile(ctx, event.Integrations, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tools: %w", err)
	}
	defer func() {
		if err := toolset.Close(); err != nil {
			p.logger.Warn("Failed to close tools", "event_id", rc.EventID, "error", err)
		}
	}()

	result := &Result{EventID: rc.EventID}
	req := agent.Request{Prompt: prompt, Template: p.template, Tools: toolset, RunContext: rc, Runbook: runbook}
	err = p.runner.Run(ctx, req, func(ctx context.Context, answer string, ac models.AnswerContext) error {
		se := AnswerCreatedEvent(rc, ac)
		delivery, err := binder.PostAnswer(ctx, handle, slack.Answer{
			Text:     answer,
			TraceURL: ac.TraceURL(),
			Event:    se,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", services.ErrExternalDeliveryFailed, err)
		}
		result.TraceID = ac.TraceID()
		result.TraceURL = ac.TraceURL()
		result.MessageTS = delivery.TS
		if p.publisher != nil && !p.publisher.Publish(se) {
			p.logger.Warn("answer_created event dropped", "event_id", rc.EventID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AnswerCreatedEvent is attached to the Slack answer and published on the
// bus so feedback can be joined to the trace.
func AnswerCreatedEvent(rc models.RunContext, ac models.AnswerContext) models.SystemEvent {
	return models.SystemEvent{
		Type:     models.EventAnswerCreated,
		EntityID: rc.EventID,
		Payload: map[string]any{
			"env":              rc.Env,
			"context":          rc.Context,
			"traceId":          ac.TraceID(),
			"observationId":    ac.ObservationID(),
			"traceURL":         ac.TraceURL(),
			"organizationName": rc.OrganizationName,
			"organizationId":   rc.OrganizationID,
		},
	}
}

// notifyFailure threads a short notice. It runs detached from ctx, which may
// already be past its deadline.
func (p *Pipeline) notifyFailure(ctx context.Context, binder ConversationBinder, handle slack.MessageHandle, cause error, log *slog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := binder.PostFailure(fctx, handle, failureReason(cause)); err != nil {
		log.Error("Failed to post failure notice", "cause", cause, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, services.ErrAgentRunFailed):
		return "The investigation engine failed before reaching a conclusion."
	case errors.Is(err, services.ErrExternalDeliveryFailed):
		return "The answer could not be delivered."
	case errors.Is(err, alerts.ErrIncidentNotFound):
		return "The alert could not be found in the alerting tool."
	case errors.Is(err, tools.ErrToolLoad):
		return "One of the connected integrations could not be loaded."
	default:
		return "An internal error interrupted the investigation."
	}
}

func (p *Pipeline) runbook(ctx context.Context, eventID string, inc *alerts.Incident) string {
	if p.runbooks == nil {
		return ""
	}
	content, err := p.runbooks.Resolve(ctx, inc)
	if err != nil {
		p.logger.Warn("Runbook unavailable, investigating without it", "event_id", eventID, "error", err)
		return ""
	}
	return content
}
