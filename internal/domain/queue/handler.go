package queue

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
	"github.com/ertriage/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "nurse", "physician"))
	readGroup.GET("/ed-visits", h.ListVisits)
	readGroup.GET("/ed-visits/active", h.ListActiveVisits)
	readGroup.GET("/ed-visits/stats", h.QueueStats)
	readGroup.GET("/ed-visits/:id", h.GetVisit)
	readGroup.GET("/ed-visits/:id/status-history", h.GetStatusHistory)

	writeGroup := api.Group("", auth.RequireRole("admin", "nurse", "physician"))
	writeGroup.POST("/ed-visits", h.AdmitVisit)
	writeGroup.POST("/ed-visits/:id/advance", h.AdvanceVisit)
	writeGroup.PUT("/ed-visits/:id/status", h.SetVisitStatus)
	writeGroup.PUT("/ed-visits/:id/room", h.AssignRoom)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/ed-visits/:id", h.DeleteVisit)
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type roomRequest struct {
	Room string `json:"room"`
}

func (h *Handler) AdmitVisit(c echo.Context) error {
	var a Admission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.AdmittedBy = auth.UserIDFromContext(c.Request().Context())
	v, err := h.svc.Admit(c.Request().Context(), a)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "ed visit not found")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params["status"] = string(st)
	}
	if v := c.QueryParam("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 4 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid priority")
		}
		params["priority"] = v
	}
	if v := c.QueryParam("patient_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params["patient_id"] = v
	}
	items, total, err := h.svc.ListVisits(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListActiveVisits(c echo.Context) error {
	items, err := h.svc.ListActiveVisits(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Visit{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) QueueStats(c echo.Context) error {
	st, err := h.svc.QueueStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) AdvanceVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	v, err := h.svc.AdvanceVisit(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetVisitStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.SetVisitStatus(ctx, id, st, auth.UserIDFromContext(ctx), req.Note)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AssignRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AssignRoom(c.Request().Context(), id, req.Room)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*StatusChange{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteVisit(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func visitError(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "ed visit not found")
	case errors.Is(err, ErrFinalStatus):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidVisit):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
