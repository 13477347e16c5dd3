package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/merlinn-co/merlinn/pkg/services"
)

// CreateIndexRequest is the body of POST /api/v1/index.
type CreateIndexRequest struct {
	DataSources []string `json:"dataSources"`
}

// IndexResponse wraps an index view.
type IndexResponse struct {
	Index *services.IndexView `json:"index"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// getIndexHandler handles GET /api/v1/index. Pollers call it every 10s
// while the index is pending.
func (s *Server) getIndexHandler(c *echo.Context) error {
	view, err := s.deps.Indexes.GetState(c.Request().Context(), principalFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &IndexResponse{Index: view})
}

// createIndexHandler handles POST /api/v1/index.
func (s *Server) createIndexHandler(c *echo.Context) error {
	var req CreateIndexRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if len(req.DataSources) == 0 {
		return badRequest(c, "dataSources is required")
	}
	view, err := s.deps.Indexes.Request(c.Request().Context(), principalFrom(c), req.DataSources)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, &IndexResponse{Index: view})
}

// deleteIndexHandler handles DELETE /api/v1/index/:id.
func (s *Server) deleteIndexHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return badRequest(c, "index id is required")
	}
	if err := s.deps.Indexes.Delete(c.Request().Context(), principalFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "Index deleted"})
}

// indexProgressHandler handles POST /api/v1/internal/index/:id/progress,
// the builder's per-source report.
func (s *Server) indexProgressHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return badRequest(c, "index id is required")
	}
	var update services.SourceUpdate
	if err := c.Bind(&update); err != nil {
		return badRequest(c, err.Error())
	}
	view, err := s.deps.Indexes.UpdateSource(c.Request().Context(), id, update)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &IndexResponse{Index: view})
}
