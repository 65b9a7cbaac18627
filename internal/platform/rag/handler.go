package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
)

// Asker is satisfied by *Client.
type Asker interface {
	Ask(ctx context.Context, kind Kind, q Query) (json.RawMessage, error)
}

type Handler struct {
	client Asker
}

func NewHandler(client Asker) *Handler {
	return &Handler{client: client}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "nurse", "physician"))
	g.POST("/knowledge/:kind", h.Ask)
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *Handler) Ask(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var q Query
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if q.UserID == "" {
		q.UserID = auth.UserIDFromContext(c.Request().Context())
	}

	out, err := h.client.Ask(c.Request().Context(), kind, q)
	var be *BackendError
	switch {
	case err == nil:
		return c.JSONBlob(http.StatusOK, out)
	case errors.Is(err, ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownKind):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &be):
		return c.JSON(http.StatusBadGateway, failure{Error: be.Error()})
	default:
		return c.JSON(http.StatusBadGateway, failure{Error: err.Error()})
	}
}
