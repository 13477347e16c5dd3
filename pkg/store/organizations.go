package store

import (
	"context"
	"database/sql"

	"github.com/merlinn-co/merlinn/pkg/models"
)

// OrganizationStore reads tenants.
type OrganizationStore struct {
	db *sql.DB
}

// NewOrganizationStore creates an OrganizationStore.
func NewOrganizationStore(db *sql.DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

// Get returns an organization by id.
func (s *OrganizationStore) Get(ctx context.Context, id string) (*models.Organization, error) {
	var (
		org    models.Organization
		planID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, plan_id, created_at FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &planID, &org.CreatedAt)
	if err != nil {
		return nil, notFound(err, "get organization")
	}
	org.PlanID = planID.String
	return &org, nil
}
