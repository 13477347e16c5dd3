package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// UserStore persists users keyed by their identity-provider id.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a UserStore.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u              models.User
		status, role   string
		organizationID sql.NullString
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &status, &role, &organizationID, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = models.UserStatus(status)
	u.Role = models.Role(role)
	u.OrganizationID = organizationID.String
	return &u, nil
}

// GetByExternalID returns the user registered under an identity-provider id.
func (s *UserStore) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, external_id, email, status, role, organization_id, created_at
		FROM users WHERE external_id = $1`, externalID))
	if err != nil {
		return nil, notFound(err, "get user")
	}
	return u, nil
}

// Create inserts a user. A duplicate external id returns ErrConflict.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	var organizationID sql.NullString
	if u.OrganizationID != "" {
		organizationID = sql.NullString{String: u.OrganizationID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id, email, status, role, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		u.ID, u.ExternalID, u.Email, string(u.Status), string(u.Role), organizationID).
		Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Activate marks an invited user as activated.
func (s *UserStore) Activate(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET status = 'activated' WHERE id = $1
		RETURNING id, external_id, email, status, role, organization_id, created_at`, id))
	if err != nil {
		return nil, notFound(err, "activate user")
	}
	return u, nil
}
