//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ertriage/triage/internal/platform/db"
	"github.com/ertriage/triage/migrations"
)

// testDB holds the shared database for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgres uses TEST_DATABASE_URL when set and otherwise starts a
// throwaway postgres container.
func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	return &testDB{Pool: pool, ConnStr: connStr}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// createFacility creates and migrates a facility schema and drops it when the
// test ends.
func createFacility(t *testing.T, ctx context.Context, facility string) {
	t.Helper()
	migrator := db.NewMigrator(globalDB.Pool, migrations.FS)
	if err := db.CreateFacilitySchema(ctx, globalDB.Pool, facility, migrator); err != nil {
		t.Fatalf("create facility schema %s: %v", facility, err)
	}
	t.Cleanup(func() {
		schema := db.SchemaName(facility)
		if _, err := globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
}

// withFacilityConn acquires a connection scoped to the facility schema and
// hands it to fn through the context, the way FacilityMiddleware does.
func withFacilityConn(ctx context.Context, facility string, fn func(ctx context.Context) error) error {
	conn, err := globalDB.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.SchemaName(facility))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	// reset so the pooled connection does not leak the schema to later tests
	defer conn.Exec(context.Background(), "RESET search_path")

	ctx = context.WithValue(ctx, db.DBConnKey, conn)
	return fn(ctx)
}

// uniqueFacility returns a facility identifier unique to this run.
func uniqueFacility(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.New().String()[:8], "-", ""))
}

func ptrInt(v int) *int { return &v }
