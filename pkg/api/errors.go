package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/merlinn-co/merlinn/pkg/services"
)

// Machine-readable error codes returned in ErrorResponse.Code.
const (
	CodeValidation              = "VALIDATION_FAILED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeNotFound                = "NOT_FOUND"
	CodeMessageNotFound         = "MESSAGE_NOT_FOUND"
	CodeAlreadyExists           = "ALREADY_EXISTS"
	CodeQuotaExceeded           = "QUOTA_EXCEEDED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeIntegrationNotFound     = "INTEGRATION_NOT_FOUND"
	CodeCredentialExpired       = "CREDENTIAL_EXPIRED"
	CodeCredentialRefreshFailed = "CREDENTIAL_REFRESH_FAILED"
	CodeAgentRunFailed          = "AGENT_RUN_FAILED"
	CodeExternalDeliveryFailed  = "EXTERNAL_DELIVERY_FAILED"
	CodeBuildInProgress         = "BUILD_IN_PROGRESS"
	CodeSourceFinished          = "SOURCE_FINISHED"
	CodeBuildSuperseded         = "BUILD_SUPERSEDED"
	CodeExternalTeardownFailed  = "EXTERNAL_TEARDOWN_FAILED"
	CodeInternal                = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError is a mapped service error.
type apiError struct {
	Status int
	Body   ErrorResponse
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{Status: status, Body: ErrorResponse{Code: code, Message: message}}
}

// mapServiceError maps service-layer errors to an HTTP status and code.
// IntegrationNotFoundError and ErrMessageNotFound are checked before
// ErrNotFound, which they match.
func mapServiceError(err error) *apiError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return newAPIError(http.StatusBadRequest, CodeValidation, validErr.Error())
	}
	var missing *services.IntegrationNotFoundError
	if errors.As(err, &missing) {
		return newAPIError(http.StatusInternalServerError, CodeIntegrationNotFound, missing.Error())
	}

	switch {
	case errors.Is(err, services.ErrUnauthorized):
		// Rejected webhooks get 403, matching the vendors' retry semantics.
		return newAPIError(http.StatusForbidden, CodeUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrForbidden):
		return newAPIError(http.StatusForbidden, CodeForbidden, "forbidden")
	case errors.Is(err, services.ErrMessageNotFound):
		return newAPIError(http.StatusNotFound, CodeMessageNotFound, "no chat message references this alert")
	case errors.Is(err, services.ErrNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, services.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, CodeAlreadyExists, "resource already exists")
	case errors.Is(err, services.ErrQuotaExceeded):
		return newAPIError(http.StatusTooManyRequests, CodeQuotaExceeded, "plan limit reached")
	case errors.Is(err, services.ErrBuildInProgress):
		return newAPIError(http.StatusConflict, CodeBuildInProgress, "an index build is already in progress")
	case errors.Is(err, services.ErrSourceFinished):
		return newAPIError(http.StatusConflict, CodeSourceFinished, "data source already finished")
	case errors.Is(err, services.ErrBuildSuperseded):
		return newAPIError(http.StatusConflict, CodeBuildSuperseded, "report is for a superseded build")
	case errors.Is(err, services.ErrCredentialExpired):
		return newAPIError(http.StatusUnauthorized, CodeCredentialExpired, "integration credentials expired")
	case errors.Is(err, services.ErrCredentialRefreshFailed):
		return newAPIError(http.StatusInternalServerError, CodeCredentialRefreshFailed, "failed to refresh integration credentials")
	case errors.Is(err, services.ErrAgentRunFailed):
		return newAPIError(http.StatusInternalServerError, CodeAgentRunFailed, "investigation failed")
	case errors.Is(err, services.ErrExternalDeliveryFailed):
		return newAPIError(http.StatusInternalServerError, CodeExternalDeliveryFailed, "failed to deliver answer")
	case errors.Is(err, services.ErrExternalTeardownFailed):
		return newAPIError(http.StatusBadGateway, CodeExternalTeardownFailed, "failed to delete external index")
	}

	slog.Error("Unexpected service error", "error", err)
	return newAPIError(http.StatusInternalServerError, CodeInternal, "internal server error")
}

// respondError writes err as an ErrorResponse.
func respondError(c *echo.Context, err error) error {
	ae := mapServiceError(err)
	return c.JSON(ae.Status, &ae.Body)
}

func badRequest(c *echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, &ErrorResponse{Code: CodeValidation, Message: message})
}
