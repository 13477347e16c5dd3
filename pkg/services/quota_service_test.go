package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		state     *models.PlanFieldState
		allowed   bool
		wantLimit int
		wantErr   bool
	}{
		{"under limit", numberField("alerts", 100, 99), true, 100, false},
		{"at limit", numberField("alerts", 100, 100), false, 100, false},
		{"over limit but may exceed", func() *models.PlanFieldState {
			st := numberField("alerts", 10, 50)
			st.CanExceedLimit = true
			return st
		}(), true, 10, false},
		{"boolean true", &models.PlanFieldState{Code: "sso", Kind: models.PlanFieldBoolean, Value: json.RawMessage(`true`)}, true, -1, false},
		{"boolean false", &models.PlanFieldState{Code: "sso", Kind: models.PlanFieldBoolean, Value: json.RawMessage(`false`)}, false, -1, false},
		{"missing value denies", &models.PlanFieldState{Code: "alerts", Kind: models.PlanFieldNumber}, false, -1, false},
		{"null value denies", &models.PlanFieldState{Code: "alerts", Kind: models.PlanFieldNumber, Value: json.RawMessage(`null`)}, false, -1, false},
		{"number field with string value", &models.PlanFieldState{Code: "alerts", Kind: models.PlanFieldNumber, Value: json.RawMessage(`"lots"`)}, false, -1, true},
		{"unknown kind", &models.PlanFieldState{Code: "x", Kind: "enum", Value: json.RawMessage(`1`)}, false, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.state)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, got.IsAllowed)
			assert.Equal(t, tt.wantLimit, got.Limit)
			assert.Equal(t, tt.state.Used, got.Used)
		})
	}
}

func TestQuotaService(t *testing.T) {
	plans := &fakePlans{states: map[string]*models.PlanFieldState{
		models.PlanFieldAlerts:           numberField(models.PlanFieldAlerts, 100, 3),
		models.PlanFieldIndexingAttempts: numberField(models.PlanFieldIndexingAttempts, 3, 3),
	}}
	svc := NewQuotaService(plans)
	ctx := context.Background()

	state, err := svc.Check(ctx, models.PlanFieldAlerts, "org-1")
	require.NoError(t, err)
	assert.True(t, state.IsAllowed)
	assert.Empty(t, plans.increments, "Check never mutates usage")

	assert.NoError(t, svc.Require(ctx, models.PlanFieldAlerts, "org-1"))
	assert.ErrorIs(t, svc.Require(ctx, models.PlanFieldIndexingAttempts, "org-1"), ErrQuotaExceeded)

	_, err = svc.Check(ctx, "unknown_field", "org-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Increment(ctx, models.PlanFieldAlerts, "org-1"))
	assert.Equal(t, []string{"org-1/alerts"}, plans.increments)
}
