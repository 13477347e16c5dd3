package api

import (
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/merlinn-co/merlinn/pkg/webhook"
)

// MaxWebhookBodySize bounds vendor webhook payloads.
const MaxWebhookBodySize = 1 << 20

// alertWebhookHandler handles POST /api/v1/webhooks/{pagerduty,opsgenie}.
// The investigation runs inside the request; vendors see 200 only once the
// answer is posted.
func (s *Server) alertWebhookHandler(vendor string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		req := c.Request()
		body, err := io.ReadAll(io.LimitReader(req.Body, MaxWebhookBodySize+1))
		if err != nil {
			return badRequest(c, "failed to read body")
		}
		if len(body) > MaxWebhookBodySize {
			return c.JSON(http.StatusRequestEntityTooLarge, &ErrorResponse{
				Code:    CodeValidation,
				Message: fmt.Sprintf("payload exceeds maximum size of %d bytes", MaxWebhookBodySize),
			})
		}

		_, err = s.deps.Pipeline.Handle(req.Context(), webhook.Inbound{
			Vendor: vendor,
			Header: req.Header,
			Query:  req.URL.Query(),
			Body:   body,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.String(http.StatusOK, "ok")
	}
}

// AfterSignupRequest is the identity provider's post-registration payload.
type AfterSignupRequest struct {
	UserID string `json:"userId"`
	Traits struct {
		Email string `json:"email"`
	} `json:"traits"`
}

// afterSignupHandler handles POST /api/v1/webhooks/auth/after-signup.
func (s *Server) afterSignupHandler(c *echo.Context) error {
	var req AfterSignupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.UserID == "" || req.Traits.Email == "" {
		return badRequest(c, "missing required fields: userId, email")
	}
	user, err := s.deps.Users.RegisterUser(c.Request().Context(), req.UserID, req.Traits.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}
