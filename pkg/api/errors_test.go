package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/slack"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectBody string
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("dataSources", "unknown source"),
			expectCode: http.StatusBadRequest,
			expectBody: CodeValidation,
			expectMsg:  "unknown source",
		},
		{
			name:       "bad signature maps to 403",
			err:        fmt.Errorf("PagerDuty signature: %w", services.ErrUnauthorized),
			expectCode: http.StatusForbidden,
			expectBody: CodeUnauthorized,
			expectMsg:  "unauthorized",
		},
		{
			name:       "quota maps to 429",
			err:        fmt.Errorf("alerts: %w", services.ErrQuotaExceeded),
			expectCode: http.StatusTooManyRequests,
			expectBody: CodeQuotaExceeded,
			expectMsg:  "plan limit reached",
		},
		{
			name:       "missing integration maps to 500 before not found",
			err:        &services.IntegrationNotFoundError{Vendor: "Slack"},
			expectCode: http.StatusInternalServerError,
			expectBody: CodeIntegrationNotFound,
			expectMsg:  "Slack integration not found",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectBody: CodeNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "missing chat message maps to 404 before not found",
			err:        fmt.Errorf("%w: %w", services.ErrMessageNotFound, fmt.Errorf("%w: event Q1ABCD in channel C1", slack.ErrMessageNotFound)),
			expectCode: http.StatusNotFound,
			expectBody: CodeMessageNotFound,
			expectMsg:  "no chat message",
		},
		{
			name:       "agent failure maps to 500",
			err:        fmt.Errorf("%w: engine timed out", services.ErrAgentRunFailed),
			expectCode: http.StatusInternalServerError,
			expectBody: CodeAgentRunFailed,
			expectMsg:  "investigation failed",
		},
		{
			name:       "delivery failure maps to 500",
			err:        fmt.Errorf("%w: channel_not_found", services.ErrExternalDeliveryFailed),
			expectCode: http.StatusInternalServerError,
			expectBody: CodeExternalDeliveryFailed,
		},
		{
			name:       "refresh failure maps to 500",
			err:        fmt.Errorf("%w: invalid_grant", services.ErrCredentialRefreshFailed),
			expectCode: http.StatusInternalServerError,
			expectBody: CodeCredentialRefreshFailed,
		},
		{
			name:       "build in progress maps to 409",
			err:        services.ErrBuildInProgress,
			expectCode: http.StatusConflict,
			expectBody: CodeBuildInProgress,
		},
		{
			name:       "finished source maps to 409",
			err:        fmt.Errorf("Github: %w", services.ErrSourceFinished),
			expectCode: http.StatusConflict,
			expectBody: CodeSourceFinished,
		},
		{
			name:       "superseded build maps to 409",
			err:        fmt.Errorf("build b-1: %w", services.ErrBuildSuperseded),
			expectCode: http.StatusConflict,
			expectBody: CodeBuildSuperseded,
		},
		{
			name:       "forbidden maps to 403",
			err:        fmt.Errorf("only owners can create indexes: %w", services.ErrForbidden),
			expectCode: http.StatusForbidden,
			expectBody: CodeForbidden,
		},
		{
			name:       "already exists maps to 409",
			err:        services.ErrAlreadyExists,
			expectCode: http.StatusConflict,
			expectBody: CodeAlreadyExists,
		},
		{
			name:       "teardown failure maps to 502",
			err:        services.ErrExternalTeardownFailed,
			expectCode: http.StatusBadGateway,
			expectBody: CodeExternalTeardownFailed,
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectBody: CodeInternal,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ae := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, ae.Status)
			assert.Equal(t, tt.expectBody, ae.Body.Code)
			if tt.expectMsg != "" {
				assert.Contains(t, ae.Body.Message, tt.expectMsg)
			}
		})
	}
}
