package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
)

// MeasureDefinition defines a reporting measure with its SQL query.
// Parameters are bound positionally in the order listed.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Columns     []string `json:"columns"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Columns     []string                 `json:"columns"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

var ErrInvalidParameter = errors.New("invalid measure parameter")

// defaultWindow is how far back "since" reaches when not given.
const defaultWindow = 30 * 24 * time.Hour

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "triage-volume-by-priority",
		Name:        "Triage Volume by Priority",
		Description: "Number of triaged patients per final priority since the given time",
		SQL: `SELECT final_priority, COUNT(*) AS total FROM triage_record
			WHERE triage_time >= $1 GROUP BY final_priority ORDER BY final_priority`,
		Columns:    []string{"final_priority", "total"},
		Parameters: []string{"since"},
	},
	{
		ID:          "priority-override-rate",
		Name:        "Priority Override Rate",
		Description: "Share of triage records where the nurse changed the recommended priority",
		SQL: `SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE final_priority <> recommended_priority) AS overridden,
			COALESCE(ROUND(100.0 * COUNT(*) FILTER (WHERE final_priority <> recommended_priority)
				/ NULLIF(COUNT(*), 0), 1), 0)::float8 AS override_pct
			FROM triage_record WHERE triage_time >= $1`,
		Columns:    []string{"total", "overridden", "override_pct"},
		Parameters: []string{"since"},
	},
	{
		ID:          "sentiment-mix",
		Name:        "Sentiment Mix",
		Description: "Triage records grouped by estimated patient sentiment",
		SQL: `SELECT sentiment, COUNT(*) AS total FROM triage_record
			WHERE triage_time >= $1 GROUP BY sentiment ORDER BY total DESC`,
		Columns:    []string{"sentiment", "total"},
		Parameters: []string{"since"},
	},
	{
		ID:          "active-queue-by-status",
		Name:        "Active Queue by Status",
		Description: "Visits not yet complete grouped by status, with the average wait in minutes",
		SQL: `SELECT status, COUNT(*) AS total,
			COALESCE(ROUND(AVG(EXTRACT(EPOCH FROM now() - arrival_time) / 60)), 0)::int AS avg_wait_minutes
			FROM ed_visit WHERE status <> 'Complete' GROUP BY status ORDER BY total DESC`,
		Columns:    []string{"status", "total", "avg_wait_minutes"},
		Parameters: []string{},
	},
}

// Runner executes a measure query and returns one map per row.
type Runner interface {
	Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	runner Runner
	now    func() time.Time
}

func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("admin", "physician"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
	reportGroup.GET("/measures/:id/export", h.ExportMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	report, err := h.evaluate(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ExportMeasure evaluates a measure and returns it as an XLSX workbook.
func (h *Handler) ExportMeasure(c echo.Context) error {
	report, err := h.evaluate(c)
	if err != nil {
		return err
	}
	b, err := Workbook(report)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%s-%s.xlsx", report.MeasureID, report.GeneratedAt.Format("20060102")))
	return c.Blob(http.StatusOK, XLSXContentType, b)
}

func (h *Handler) evaluate(c echo.Context) (*MeasureReport, error) {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	now := h.now()
	params := map[string]string{}
	args := make([]interface{}, 0, len(measure.Parameters))
	for _, p := range measure.Parameters {
		v, arg, err := parameter(p, c.QueryParam(p), now)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params[p] = v
		args = append(args, arg)
	}

	results, err := h.runner.Run(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return &MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: now,
		Columns:     measure.Columns,
		Results:     results,
		Parameters:  params,
	}, nil
}

// parameter resolves a query parameter to its echoed form and bound value.
func parameter(name, raw string, now time.Time) (string, interface{}, error) {
	switch name {
	case "since":
		if raw == "" {
			t := now.Add(-defaultWindow).UTC()
			return t.Format(time.RFC3339), t, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return raw, t, nil
			}
		}
		return "", nil, fmt.Errorf("%w: since must be RFC 3339 or YYYY-MM-DD", ErrInvalidParameter)
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidParameter, name)
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
