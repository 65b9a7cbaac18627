package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ertriage/triage/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return nil
	})(c)
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_AttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/triage-records", nil), httptest.NewRecorder())
	c.Set("request_id", "req-42")

	err := Logger(logger)(func(c echo.Context) error {
		zerolog.Ctx(c.Request().Context()).Info().Msg("from handler")
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["message"] != "from handler" || lines[0]["request_id"] != "req-42" {
		t.Errorf("handler log missing request id: %v", lines[0])
	}
	if lines[1]["message"] != "request" || lines[1]["status"] != float64(200) {
		t.Errorf("unexpected request log: %v", lines[1])
	}
}

func TestLogger_LogsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/missing", nil), rec)

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not here")
	})(c)
	if err != nil {
		t.Fatalf("expected error to be handled, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 response, got %d", rec.Code)
	}
	lines := decodeLines(t, &buf)
	if lines[len(lines)-1]["status"] != float64(404) || lines[len(lines)-1]["level"] != "error" {
		t.Errorf("unexpected request log: %v", lines[len(lines)-1])
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(logger)(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_LogsRequestContext(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage-records", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "nurse-7", []string{"nurse"}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/triage-records")
	c.Set("request_id", "req-9")
	c.Set(auth.FacilityContextKey, "north")

	Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("nil vitals")
	})(c)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{
		"request_id": "req-9",
		"method":     http.MethodPost,
		"route":      "/api/v1/triage-records",
		"user_id":    "nurse-7",
		"facility":   "north",
		"panic":      "nil vitals",
	} {
		if entry[k] != want {
			t.Errorf("%s: expected %q, got %v", k, want, entry[k])
		}
	}
}

func TestRecovery_CommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		c.String(http.StatusOK, "partial")
		panic("after write")
	})(c)
	if err != nil {
		t.Errorf("expected no error once the response is committed, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected the original status to stand, got %d", rec.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_RecordsEntry(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/triage-records/6f1c1f52-2d0b-4c43-9a5e-0a4f1f7b8a11/priority", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "nurse-1", []string{"nurse"}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	c.Set(auth.FacilityContextKey, "north")

	var got []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = append(got, entry)
		return nil
	})
	err := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(got))
	}
	entry := got[0]
	if entry.UserID != "nurse-1" || entry.Facility != "north" || entry.RequestID != "req-123" {
		t.Errorf("unexpected identity fields: %+v", entry)
	}
	if entry.Resource != "triage-records" || entry.ResourceID != "6f1c1f52-2d0b-4c43-9a5e-0a4f1f7b8a11" {
		t.Errorf("unexpected resource: %s/%s", entry.Resource, entry.ResourceID)
	}
	if entry.Action != "update" || entry.StatusCode != http.StatusOK {
		t.Errorf("unexpected action/status: %s/%d", entry.Action, entry.StatusCode)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	called := false
	recorder := AuditRecorderFunc(func(AuditEntry) error { called = true; return nil })
	Audit(zerolog.Nop(), recorder)(func(c echo.Context) error { return nil })(c)
	if called {
		t.Error("expected /health not to be audited")
	}
}

func TestSplitResource(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/ed-visits/active", "ed-visits", ""},
		{"/api/v1/er-sessions/ER-1700000000000-abc123def/advance", "er-sessions", "ER-1700000000000-abc123def"},
		{"/api/v1/", "unknown", ""},
		{"/api/v1/knowledge/insurance", "knowledge", ""},
	}
	for _, tt := range tests {
		r, id := splitResource(tt.path)
		if r != tt.resource || id != tt.id {
			t.Errorf("%s: expected %s/%s, got %s/%s", tt.path, tt.resource, tt.id, r, id)
		}
	}
}
