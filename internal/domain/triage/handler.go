package triage

import (
	"errors"
	"net/http"

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
	clinical := api.Group("", auth.RequireRole("admin", "nurse", "physician"))
	clinical.POST("/triage/evaluate", h.EvaluateForm)
	clinical.GET("/triage-records", h.ListTriageRecords)
	clinical.GET("/triage-records/:id", h.GetTriageRecord)
	clinical.POST("/triage-records", h.SubmitTriage)
	clinical.PUT("/triage-records/:id/priority", h.OverridePriority)
	clinical.DELETE("/triage-records/:id", h.DeleteTriageRecord)
}

// EvaluateResponse is returned while the nurse is still filling in the form.
type EvaluateResponse struct {
	Complete   bool        `json:"complete"`
	Evaluation *Evaluation `json:"evaluation"`
}

// OverrideRequest changes the final priority of a submitted triage.
type OverrideRequest struct {
	FinalPriority Priority `json:"final_priority"`
	Reason        string   `json:"reason"`
}

func (h *Handler) EvaluateForm(c echo.Context) error {
	var form IntakeForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.svc.Evaluate(&form)
	if err != nil {
		return intakeError(err)
	}
	return c.JSON(http.StatusOK, EvaluateResponse{Complete: ev != nil, Evaluation: ev})
}

func (h *Handler) SubmitTriage(c echo.Context) error {
	var sub Submission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.SubmitTriage(ctx, &sub, auth.UserIDFromContext(ctx))
	if err != nil {
		return intakeError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetTriageRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTriageRecord(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "triage record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTriageRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListTriageRecordsByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	params := map[string]string{}
	if v := c.QueryParam("final_priority"); v != "" {
		p, err := ParsePriority(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params["final_priority"] = p.String()
	}
	for _, k := range []string{"severity", "sentiment", "triage_nurse"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchTriageRecords(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) OverridePriority(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req OverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.OverridePriority(c.Request().Context(), id, req.FinalPriority, req.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "triage record not found")
		}
		return intakeError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTriageRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteTriageRecord(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func intakeError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidVital):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrIncompleteIntake), errors.Is(err, ErrInvalidPriority):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
