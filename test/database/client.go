// Package database provides database fixtures for integration tests.
package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/merlinn-co/merlinn/pkg/database"
	"github.com/merlinn-co/merlinn/test/util"
	"github.com/stretchr/testify/require"
)

// NewTestClient returns a client on a fresh, migrated schema. Cleanup is
// handled by util.SetupTestDatabase.
func NewTestClient(t *testing.T) *database.Client {
	return database.NewClientFromDB(util.SetupTestDatabase(t))
}

// CreateOrganization inserts an organization on the default plan and returns its id.
func CreateOrganization(t *testing.T, client *database.Client, name string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := client.DB().ExecContext(context.Background(),
		`INSERT INTO organizations (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	return id
}

// VendorID returns the seeded id of a vendor by name.
func VendorID(t *testing.T, client *database.Client, name string) string {
	t.Helper()
	var id string
	err := client.DB().QueryRowContext(context.Background(),
		`SELECT id FROM vendors WHERE name = $1`, name).Scan(&id)
	require.NoError(t, err)
	return id
}
