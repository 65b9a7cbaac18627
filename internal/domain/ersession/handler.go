package ersession

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "nurse", "physician"))
	g.POST("/er-sessions", h.Start)
	g.GET("/er-sessions/:id", h.Get)
	g.POST("/er-sessions/:id/advance", h.Advance)
}

func (h *Handler) Start(c echo.Context) error {
	s, err := h.svc.Start(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Advance(c echo.Context) error {
	s, err := h.svc.Advance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func sessionError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
