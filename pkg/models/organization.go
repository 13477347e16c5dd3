package models

import "time"

// Organization is a tenant. PlanID is empty for organizations on the default plan.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PlanID    string    `json:"plan_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a user's role inside their organization.
type Role string

// User roles.
const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// UserStatus tracks whether an invited user has completed signup.
type UserStatus string

// User statuses.
const (
	UserStatusInvited   UserStatus = "invited"
	UserStatusActivated UserStatus = "activated"
)

// User is a member of an organization, keyed by the identity provider's id.
type User struct {
	ID             string     `json:"id"`
	ExternalID     string     `json:"external_id"`
	Email          string     `json:"email"`
	Status         UserStatus `json:"status"`
	Role           Role       `json:"role"`
	OrganizationID string     `json:"organization_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Principal is the authenticated caller of the REST API, taken from a
// verified bearer token.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           Role
	Email          string
}

// IsOwner reports whether the principal holds the owner role.
func (p Principal) IsOwner() bool {
	return p.Role == RoleOwner
}
