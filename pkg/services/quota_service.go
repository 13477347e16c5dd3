package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/store"
)

// PlanReader is the store surface the quota service needs.
type PlanReader interface {
	FieldState(ctx context.Context, organizationID, fieldCode string) (*models.PlanFieldState, error)
	Increment(ctx context.Context, organizationID, fieldCode string) error
}

// QuotaService answers whether an organization may perform a metered action.
type QuotaService struct {
	plans PlanReader
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(plans PlanReader) *QuotaService {
	if plans == nil {
		panic("NewQuotaService: plans must not be nil")
	}
	return &QuotaService{plans: plans}
}

// Check evaluates fieldCode for the organization without changing usage.
func (s *QuotaService) Check(ctx context.Context, fieldCode, organizationID string) (models.QuotaState, error) {
	st, err := s.plans.FieldState(ctx, organizationID, fieldCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.QuotaState{}, fmt.Errorf("plan field %q for organization %s: %w", fieldCode, organizationID, ErrNotFound)
		}
		return models.QuotaState{}, fmt.Errorf("failed to load plan state: %w", err)
	}
	return Evaluate(st)
}

// Require is Check that turns a denial into ErrQuotaExceeded.
func (s *QuotaService) Require(ctx context.Context, fieldCode, organizationID string) error {
	state, err := s.Check(ctx, fieldCode, organizationID)
	if err != nil {
		return err
	}
	if !state.IsAllowed {
		slog.Info("Quota denied",
			"organization_id", organizationID, "field", fieldCode, "used", state.Used, "limit", state.Limit)
		return fmt.Errorf("%s: %w", fieldCode, ErrQuotaExceeded)
	}
	return nil
}

// Increment records one use of fieldCode after the gated action succeeded.
func (s *QuotaService) Increment(ctx context.Context, fieldCode, organizationID string) error {
	if err := s.plans.Increment(ctx, organizationID, fieldCode); err != nil {
		return fmt.Errorf("failed to increment %s usage: %w", fieldCode, err)
	}
	return nil
}

// Evaluate is the pure quota decision. Number fields allow while used is
// below the limit or when the field may exceed it; boolean fields allow
// when the plan value is true. A missing plan value denies.
func Evaluate(st *models.PlanFieldState) (models.QuotaState, error) {
	out := models.QuotaState{Limit: -1, Used: st.Used}
	if len(st.Value) == 0 || string(st.Value) == "null" {
		return out, nil
	}

	switch st.Kind {
	case models.PlanFieldNumber:
		var limit int
		if err := json.Unmarshal(st.Value, &limit); err != nil {
			return out, fmt.Errorf("plan field %q is not a number: %w", st.Code, err)
		}
		out.Limit = limit
		out.IsAllowed = st.CanExceedLimit || st.Used < limit
	case models.PlanFieldBoolean:
		var enabled bool
		if err := json.Unmarshal(st.Value, &enabled); err != nil {
			return out, fmt.Errorf("plan field %q is not a boolean: %w", st.Code, err)
		}
		out.IsAllowed = enabled
	default:
		return out, fmt.Errorf("plan field %q has unknown kind %q", st.Code, st.Kind)
	}
	return out, nil
}
