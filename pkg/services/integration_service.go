package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/store"
)

// IntegrationService connects vendors to an organization.
type IntegrationService struct {
	repo   IntegrationRepository
	cipher CredentialCipher
}

// NewIntegrationService creates a new IntegrationService.
func NewIntegrationService(repo IntegrationRepository, cipher CredentialCipher) *IntegrationService {
	if repo == nil {
		panic("NewIntegrationService: repo must not be nil")
	}
	if cipher == nil {
		panic("NewIntegrationService: cipher must not be nil")
	}
	return &IntegrationService{repo: repo, cipher: cipher}
}

// CreateIntegrationInput is a vendor connection request.
type CreateIntegrationInput struct {
	Vendor      string            `json:"vendor"`
	Credentials map[string]string `json:"credentials"`
	Metadata    map[string]any    `json:"metadata"`
	Settings    map[string]any    `json:"settings"`
}

// Create stores an integration for the caller's organization with its
// credentials encrypted.
func (s *IntegrationService) Create(ctx context.Context, principal models.Principal, input CreateIntegrationInput) (*models.Integration, error) {
	if principal.OrganizationID == "" {
		return nil, fmt.Errorf("user is not a member of an organization: %w", ErrForbidden)
	}
	vendor := strings.TrimSpace(input.Vendor)
	if vendor == "" {
		return nil, NewValidationError("vendor", "vendor is required")
	}

	encrypted, err := s.cipher.EncryptMap(ctx, input.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	in := &models.Integration{
		OrganizationID: principal.OrganizationID,
		Vendor:         models.Vendor{Name: vendor},
		Credentials:    encrypted,
		Metadata:       input.Metadata,
		Settings:       input.Settings,
	}
	switch err := s.repo.Create(ctx, in); {
	case errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("%s integration: %w", vendor, ErrAlreadyExists)
	case errors.Is(err, store.ErrNotFound):
		return nil, NewValidationError("vendor", fmt.Sprintf("unknown vendor %q", vendor))
	case err != nil:
		return nil, fmt.Errorf("failed to create integration: %w", err)
	}

	slog.Info("Integration connected", "organization_id", in.OrganizationID, "vendor", vendor, "integration_id", in.ID)
	in.Credentials = nil
	return in, nil
}

// List returns the caller's organization integrations. Credentials are not
// decrypted.
func (s *IntegrationService) List(ctx context.Context, principal models.Principal) ([]models.Integration, error) {
	out, err := s.repo.ListByOrganization(ctx, principal.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	if out == nil {
		out = []models.Integration{}
	}
	return out, nil
}

// WebhookRepository is the store surface for webhooks.
type WebhookRepository interface {
	GetByVendor(ctx context.Context, organizationID, vendor string) (*models.Webhook, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]models.Webhook, error)
	Create(ctx context.Context, w *models.Webhook) error
}

// WebhookService manages per-organization webhook secrets.
type WebhookService struct {
	repo WebhookRepository
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(repo WebhookRepository) *WebhookService {
	if repo == nil {
		panic("NewWebhookService: repo must not be nil")
	}
	return &WebhookService{repo: repo}
}

// Create registers a webhook for vendor. A random secret is generated when
// none is given.
func (s *WebhookService) Create(ctx context.Context, principal models.Principal, vendor, secret string) (*models.Webhook, error) {
	if err := requireOwner(principal, "create webhooks"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(vendor) == "" {
		return nil, NewValidationError("vendor", "vendor is required")
	}
	if secret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}

	w := &models.Webhook{
		OrganizationID: principal.OrganizationID,
		Vendor:         models.Vendor{Name: vendor},
		Secret:         secret,
	}
	switch err := s.repo.Create(ctx, w); {
	case errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("%s webhook: %w", vendor, ErrAlreadyExists)
	case errors.Is(err, store.ErrNotFound):
		return nil, NewValidationError("vendor", fmt.Sprintf("unknown vendor %q", vendor))
	case err != nil:
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	slog.Info("Webhook created", "organization_id", w.OrganizationID, "vendor", vendor)
	return w, nil
}

// List returns the caller's organization webhooks.
func (s *WebhookService) List(ctx context.Context, principal models.Principal) ([]models.Webhook, error) {
	out, err := s.repo.ListByOrganization(ctx, principal.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	if out == nil {
		out = []models.Webhook{}
	}
	return out, nil
}

// GenerateSecret returns 32 random bytes hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
