package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/merlinn-co/merlinn/pkg/services"
)

// CreateWebhookRequest is the body of POST /api/v1/webhooks. Secret is
// generated when empty.
type CreateWebhookRequest struct {
	Vendor string `json:"vendor"`
	Secret string `json:"secret,omitempty"`
}

func (s *Server) listIntegrationsHandler(c *echo.Context) error {
	out, err := s.deps.Integrations.List(c.Request().Context(), principalFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createIntegrationHandler(c *echo.Context) error {
	var input services.CreateIntegrationInput
	if err := c.Bind(&input); err != nil {
		return badRequest(c, err.Error())
	}
	in, err := s.deps.Integrations.Create(c.Request().Context(), principalFrom(c), input)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, in)
}

func (s *Server) listWebhooksHandler(c *echo.Context) error {
	out, err := s.deps.Webhooks.List(c.Request().Context(), principalFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// createWebhookHandler returns the secret once; the vendor must be
// configured with it.
func (s *Server) createWebhookHandler(c *echo.Context) error {
	var req CreateWebhookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	w, err := s.deps.Webhooks.Create(c.Request().Context(), principalFrom(c), req.Vendor, req.Secret)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}
