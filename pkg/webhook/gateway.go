// Package webhook authenticates inbound alert webhooks and resolves the
// organization context a triage run needs.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/store"
)

// WebhookLookup loads the per-organization secret for a vendor.
type WebhookLookup interface {
	GetByVendor(ctx context.Context, organizationID, vendor string) (*models.Webhook, error)
}

// OrganizationLookup loads an organization.
type OrganizationLookup interface {
	Get(ctx context.Context, id string) (*models.Organization, error)
}

// IntegrationLister lists an organization's integrations with vendor set.
type IntegrationLister interface {
	ListByOrganization(ctx context.Context, organizationID string) ([]models.Integration, error)
}

// QuotaGuard denies metered actions over the plan limit.
type QuotaGuard interface {
	Require(ctx context.Context, fieldCode, organizationID string) error
}

// CredentialPreparer decrypts and refreshes integration credentials.
type CredentialPreparer interface {
	Prepare(ctx context.Context, integrations []models.Integration) ([]models.Integration, error)
}

// Inbound is one webhook request as received.
type Inbound struct {
	Vendor string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Event is an authenticated alert with everything the pipeline needs.
type Event struct {
	RunContext      models.RunContext
	Organization    *models.Organization
	Integrations    []models.Integration
	ExternalEventID string
	Payload         map[string]any
}

// Integration returns the event organization's integration for vendor.
func (e *Event) Integration(vendor string) (models.Integration, bool) {
	return models.FindIntegration(e.Integrations, vendor)
}

type vendorHandler struct {
	verifier SignatureVerifier
	parser   EventParser
}

// Gateway authenticates webhooks. Register adds a vendor.
type Gateway struct {
	webhooks      WebhookLookup
	organizations OrganizationLookup
	integrations  IntegrationLister
	quota         QuotaGuard
	credentials   CredentialPreparer
	env           string

	mu      sync.RWMutex
	vendors map[string]vendorHandler
}

// NewGateway creates a Gateway with no vendors registered.
func NewGateway(webhooks WebhookLookup, organizations OrganizationLookup, integrations IntegrationLister,
	quota QuotaGuard, credentials CredentialPreparer, system *config.SystemConfig) *Gateway {
	if webhooks == nil {
		panic("NewGateway: webhooks must not be nil")
	}
	if organizations == nil {
		panic("NewGateway: organizations must not be nil")
	}
	if integrations == nil {
		panic("NewGateway: integrations must not be nil")
	}
	if quota == nil {
		panic("NewGateway: quota must not be nil")
	}
	if credentials == nil {
		panic("NewGateway: credentials must not be nil")
	}
	g := &Gateway{
		webhooks:      webhooks,
		organizations: organizations,
		integrations:  integrations,
		quota:         quota,
		credentials:   credentials,
		vendors:       make(map[string]vendorHandler),
	}
	if system != nil {
		g.env = system.Environment
	}
	return g
}

// NewDefaultGateway registers PagerDuty and Opsgenie.
func NewDefaultGateway(webhooks WebhookLookup, organizations OrganizationLookup, integrations IntegrationLister,
	quota QuotaGuard, credentials CredentialPreparer, cfg *config.Config) *Gateway {
	g := NewGateway(webhooks, organizations, integrations, quota, credentials, cfg.System)
	var pdSecret string
	if cfg.Webhooks != nil {
		pdSecret = cfg.Webhooks.PagerDutySecret()
	}
	g.Register(models.VendorPagerDuty, PagerDutyVerifier(pdSecret), ParsePagerDuty)
	g.Register(models.VendorOpsgenie, AcceptAll, ParseOpsgenie)
	return g
}

// Register sets the verifier and parser for vendor.
func (g *Gateway) Register(vendor string, verifier SignatureVerifier, parser EventParser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vendors[vendor] = vendorHandler{verifier: verifier, parser: parser}
}

// OrganizationID reads the organization from the query, then the header.
func OrganizationID(in Inbound) string {
	if id := in.Query.Get(QueryOrganization); id != "" {
		return id
	}
	return in.Header.Get(HeaderOrganization)
}

// Handle authenticates the webhook and resolves its organization context.
// Steps run in order and the first failure stops: vendor signature,
// organization secret, alerts quota, integrations. Unauthenticated requests
// never reach the quota or integration lookups.
func (g *Gateway) Handle(ctx context.Context, in Inbound) (event *Event, err error) {
	defer func() {
		metrics.WebhooksTotal.WithLabelValues(in.Vendor, outcome(err)).Inc()
	}()

	g.mu.RLock()
	h, ok := g.vendors[in.Vendor]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vendor %q: %w", in.Vendor, services.ErrNotFound)
	}
	if in.Header == nil {
		in.Header = http.Header{}
	}

	if err := h.verifier.Verify(in.Header, in.Body); err != nil {
		slog.Warn("Webhook signature rejected", "vendor", in.Vendor, "error", err)
		return nil, fmt.Errorf("%s signature: %w", in.Vendor, services.ErrUnauthorized)
	}

	orgID := OrganizationID(in)
	if err := g.checkSecret(ctx, orgID, in); err != nil {
		return nil, err
	}
	log := slog.With("organization_id", orgID, "vendor", in.Vendor)

	if err := g.quota.Require(ctx, models.PlanFieldAlerts, orgID); err != nil {
		return nil, err
	}

	org, err := g.organizations.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("organization %s: %w", orgID, services.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	all, err := g.integrations.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	for _, vendor := range []string{models.VendorSlack, in.Vendor} {
		if _, ok := models.FindIntegration(all, vendor); !ok {
			log.Warn("Required integration missing", "required", vendor)
			return nil, &services.IntegrationNotFoundError{Vendor: vendor}
		}
	}
	prepared, err := g.credentials.Prepare(ctx, all)
	if err != nil {
		return nil, err
	}

	eventID, payload, err := h.parser(in.Body)
	if err != nil {
		return nil, services.NewValidationError("body", err.Error())
	}

	log.Info("Webhook accepted", "event_id", eventID)
	return &Event{
		RunContext: models.RunContext{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			Env:              g.env,
			EventID:          eventID,
			Context:          models.TriggerContext(in.Vendor),
		},
		Organization:    org,
		Integrations:    prepared,
		ExternalEventID: eventID,
		Payload:         payload,
	}, nil
}

func (g *Gateway) checkSecret(ctx context.Context, orgID string, in Inbound) error {
	if orgID == "" {
		return fmt.Errorf("missing organization: %w", services.ErrUnauthorized)
	}
	w, err := g.webhooks.GetByVendor(ctx, orgID, in.Vendor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Webhook not registered", "organization_id", orgID, "vendor", in.Vendor)
			return fmt.Errorf("no %s webhook: %w", in.Vendor, services.ErrUnauthorized)
		}
		return fmt.Errorf("failed to load webhook: %w", err)
	}
	got := in.Header.Get(HeaderWebhookSecret)
	if w.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(w.Secret)) != 1 {
		slog.Warn("Webhook secret rejected", "organization_id", orgID, "vendor", in.Vendor)
		return fmt.Errorf("webhook secret: %w", services.ErrUnauthorized)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, services.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, services.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}
