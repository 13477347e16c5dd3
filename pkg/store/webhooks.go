package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// WebhookStore persists per-organization inbound webhook secrets.
type WebhookStore struct {
	db *sql.DB
}

// NewWebhookStore creates a WebhookStore.
func NewWebhookStore(db *sql.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

const webhookSelect = `
	SELECT w.id, w.organization_id, v.id, v.name, v.description, w.secret, w.created_at
	FROM webhooks w
	JOIN vendors v ON v.id = w.vendor_id`

func scanWebhook(row rowScanner) (models.Webhook, error) {
	var w models.Webhook
	err := row.Scan(&w.ID, &w.OrganizationID, &w.Vendor.ID, &w.Vendor.Name, &w.Vendor.Description, &w.Secret, &w.CreatedAt)
	return w, err
}

// GetByVendor returns the organization's webhook for a vendor name.
func (s *WebhookStore) GetByVendor(ctx context.Context, organizationID, vendor string) (*models.Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx,
		webhookSelect+` WHERE w.organization_id = $1 AND v.name = $2`, organizationID, vendor))
	if err != nil {
		return nil, notFound(err, "get webhook")
	}
	return &w, nil
}

// ListByOrganization returns the organization's webhooks.
func (s *WebhookStore) ListByOrganization(ctx context.Context, organizationID string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, webhookSelect+` WHERE w.organization_id = $1 ORDER BY v.name`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Create inserts a webhook for w.Vendor.Name. It returns ErrNotFound for an
// unknown vendor and ErrConflict when one already exists.
func (s *WebhookStore) Create(ctx context.Context, w *models.Webhook) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (id, organization_id, vendor_id, secret)
		SELECT $1, $2, v.id, $4 FROM vendors v WHERE v.name = $3
		RETURNING vendor_id, created_at`,
		w.ID, w.OrganizationID, w.Vendor.Name, w.Secret).
		Scan(&w.Vendor.ID, &w.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return notFound(err, "create webhook")
	}
	return nil
}
