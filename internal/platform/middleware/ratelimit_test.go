package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/triage/internal/platform/auth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newLimitedStore(rps float64, burst int) (*rateLimiterStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst})
	store.now = clock.now
	return store, clock
}

func hit(mw echo.MiddlewareFunc, ip, facility string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ed-visits", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if facility != "" {
		c.Set(auth.FacilityContextKey, facility)
	}
	return rec, mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
}

func TestTokenBucket_Refills(t *testing.T) {
	start := time.Now()
	b := newTokenBucket(2, 2, start)
	if !b.allow(start) || !b.allow(start) {
		t.Fatal("expected burst of 2")
	}
	if b.allow(start) {
		t.Error("expected bucket to be empty")
	}
	if !b.allow(start.Add(500 * time.Millisecond)) {
		t.Error("expected one token after 500ms at 2 rps")
	}
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	store, _ := newLimitedStore(1, 3)
	mw := rateLimit(store)

	for i := 0; i < 3; i++ {
		if _, err := hit(mw, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
	}
	rec, err := hit(mw, "10.0.0.1", "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected rate limit headers, got %v", rec.Header())
	}
}

func TestRateLimit_RecoversOverTime(t *testing.T) {
	store, clock := newLimitedStore(1, 1)
	mw := rateLimit(store)

	hit(mw, "10.0.0.1", "")
	if _, err := hit(mw, "10.0.0.1", ""); err == nil {
		t.Fatal("expected second request to be limited")
	}
	clock.t = clock.t.Add(time.Second)
	if _, err := hit(mw, "10.0.0.1", ""); err != nil {
		t.Errorf("expected request to pass after refill, got %v", err)
	}
}

func TestRateLimit_SeparateKeys(t *testing.T) {
	store, _ := newLimitedStore(1, 1)
	mw := rateLimit(store)

	if _, err := hit(mw, "10.0.0.1", "north"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := hit(mw, "10.0.0.1", "south"); err != nil {
		t.Errorf("expected other facility to have its own bucket, got %v", err)
	}
	if _, err := hit(mw, "10.0.0.2", "north"); err != nil {
		t.Errorf("expected other IP to have its own bucket, got %v", err)
	}
	if _, err := hit(mw, "10.0.0.1", "north"); err == nil {
		t.Error("expected same facility and IP to be limited")
	}
}
