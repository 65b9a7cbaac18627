package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ertriage/triage/internal/platform/auth"
)

type contextKey string

const (
	FacilityKey contextKey = "facility"
	DBConnKey   contextKey = "db_conn"
)

// FacilityHeader selects the facility when the token does not carry one.
const FacilityHeader = "X-Facility-ID"

var facilityPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a facility's data.
func SchemaName(facility string) string {
	return "facility_" + facility
}

// FacilityMiddleware pins a pooled connection to the request's facility
// schema. Repositories pick the connection up with ConnFromContext.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}

			facility := extractFacility(c, defaultFacility)
			if !facilityPattern.MatchString(facility) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(facility))); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("facility", facility).Msg("set search_path failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "facility resolution failed")
			}

			ctx = WithFacility(ctx, facility)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func extractFacility(c echo.Context, defaultFacility string) string {
	if f, ok := c.Get(auth.FacilityContextKey).(string); ok && f != "" {
		return f
	}
	if f := c.Request().Header.Get(FacilityHeader); f != "" {
		return f
	}
	if f := c.QueryParam("facility"); f != "" {
		return f
	}
	return defaultFacility
}

// WithFacility returns ctx tagged with facility.
func WithFacility(ctx context.Context, facility string) context.Context {
	return context.WithValue(ctx, FacilityKey, facility)
}

// ConnFromContext returns the facility-scoped connection, or nil outside a
// request.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func FacilityFromContext(ctx context.Context) string {
	f, _ := ctx.Value(FacilityKey).(string)
	return f
}

// CreateFacilitySchema creates the facility schema and migrates it.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facility string, migrator *Migrator) error {
	if !facilityPattern.MatchString(facility) {
		return fmt.Errorf("invalid facility identifier: %s", facility)
	}
	schema := SchemaName(facility)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
