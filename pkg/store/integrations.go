package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// IntegrationStore persists organization integrations. Credentials are
// stored as given; callers encrypt before writing.
type IntegrationStore struct {
	db *sql.DB
}

// NewIntegrationStore creates an IntegrationStore.
func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

const integrationSelect = `
	SELECT i.id, i.organization_id, v.id, v.name, v.description,
	       i.credentials, i.metadata, i.settings, i.created_at, i.updated_at
	FROM integrations i
	JOIN vendors v ON v.id = i.vendor_id`

func scanIntegration(row rowScanner) (models.Integration, error) {
	var (
		in                        models.Integration
		creds, metadata, settings []byte
	)
	err := row.Scan(&in.ID, &in.OrganizationID, &in.Vendor.ID, &in.Vendor.Name, &in.Vendor.Description,
		&creds, &metadata, &settings, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	if err := unmarshalJSON(creds, &in.Credentials); err != nil {
		return in, err
	}
	if err := unmarshalJSON(metadata, &in.Metadata); err != nil {
		return in, err
	}
	if err := unmarshalJSON(settings, &in.Settings); err != nil {
		return in, err
	}
	return in, nil
}

// ListByOrganization returns every integration of an organization with its vendor populated.
func (s *IntegrationStore) ListByOrganization(ctx context.Context, organizationID string) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx, integrationSelect+` WHERE i.organization_id = $1 ORDER BY v.name`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetByVendor returns the organization's integration for a vendor name.
func (s *IntegrationStore) GetByVendor(ctx context.Context, organizationID, vendor string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx, integrationSelect+` WHERE i.organization_id = $1 AND v.name = $2`, organizationID, vendor)
	in, err := scanIntegration(row)
	if err != nil {
		return nil, notFound(err, "get integration")
	}
	return &in, nil
}

// Create inserts an integration for in.Vendor.Name. It returns ErrNotFound
// for an unknown vendor and ErrConflict when the organization already has one.
func (s *IntegrationStore) Create(ctx context.Context, in *models.Integration) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	creds, err := marshalJSON(nonNilStrings(in.Credentials))
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(nonNilMap(in.Metadata))
	if err != nil {
		return err
	}
	settings, err := marshalJSON(nonNilMap(in.Settings))
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO integrations (id, organization_id, vendor_id, credentials, metadata, settings)
		SELECT $1, $2, v.id, $4::jsonb, $5::jsonb, $6::jsonb FROM vendors v WHERE v.name = $3
		RETURNING vendor_id, created_at, updated_at`,
		in.ID, in.OrganizationID, in.Vendor.Name, creds, metadata, settings).
		Scan(&in.Vendor.ID, &in.CreatedAt, &in.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return notFound(err, "create integration")
	}
	return nil
}

// UpdateCredentials replaces credentials and merges metadata, bumping
// updated_at. The new updated_at is returned since token expiry is measured from it.
func (s *IntegrationStore) UpdateCredentials(ctx context.Context, id string, credentials map[string]string, metadata map[string]any) (time.Time, error) {
	creds, err := marshalJSON(nonNilStrings(credentials))
	if err != nil {
		return time.Time{}, err
	}
	meta, err := marshalJSON(nonNilMap(metadata))
	if err != nil {
		return time.Time{}, err
	}

	var updatedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		UPDATE integrations
		SET credentials = $2::jsonb, metadata = metadata || $3::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`, id, creds, meta).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, notFound(err, "update integration credentials")
	}
	return updatedAt, nil
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
