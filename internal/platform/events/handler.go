package events

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
)

type Handler struct {
	pub *StreamPublisher
}

func NewHandler(pub *StreamPublisher) *Handler {
	return &Handler{pub: pub}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("nurse", "physician"))
	g.GET("/alerts", h.Recent)
}

// Recent lists the latest critical alerts, ?count= defaults to 20.
func (h *Handler) Recent(c echo.Context) error {
	n := int64(20)
	if v := c.QueryParam("count"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 || parsed > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "count must be between 1 and 500")
		}
		n = parsed
	}
	alerts, err := h.pub.Recent(c.Request().Context(), n)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, alerts)
}
