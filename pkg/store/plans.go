package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merlinn-co/merlinn/pkg/models"
)

// DefaultPlanID is the plan applied to organizations without one.
const DefaultPlanID = "free"

// PlanStore reads plan limits and maintains usage counters.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore creates a PlanStore.
func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

// FieldState joins the organization's plan value for a field with its
// current usage. Organizations without a plan read the default plan;
// missing usage reads as zero.
func (s *PlanStore) FieldState(ctx context.Context, organizationID, fieldCode string) (*models.PlanFieldState, error) {
	var (
		st    models.PlanFieldState
		kind  string
		value []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT f.code, f.kind, f.can_exceed_limit, p.limits -> f.code, COALESCE(u.used, 0)
		FROM organizations o
		JOIN plans p ON p.id = COALESCE(o.plan_id, $3)
		JOIN plan_fields f ON f.code = $2
		LEFT JOIN plan_usage u ON u.organization_id = o.id AND u.field_code = f.code
		WHERE o.id = $1`,
		organizationID, fieldCode, DefaultPlanID).
		Scan(&st.Code, &kind, &st.CanExceedLimit, &value, &st.Used)
	if err != nil {
		return nil, notFound(err, "get plan field state")
	}
	st.Kind = models.PlanFieldKind(kind)
	st.Value = value
	return &st, nil
}

// Increment adds one use of fieldCode for the organization.
func (s *PlanStore) Increment(ctx context.Context, organizationID, fieldCode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_usage (organization_id, field_code, used)
		VALUES ($1, $2, 1)
		ON CONFLICT (organization_id, field_code)
		DO UPDATE SET used = plan_usage.used + 1, updated_at = now()`,
		organizationID, fieldCode)
	if err != nil {
		return fmt.Errorf("increment plan usage: %w", err)
	}
	return nil
}
