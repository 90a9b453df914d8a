package database

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// repositoryTables lists every table the migrations create, children first
var repositoryTables = []string{
	"investment_decisions",
	"trigger_events",
	"stop_loss_orders",
	"price_data_daily",
}

// integrationDB is a migrated database inside a throwaway Postgres container
type integrationDB struct {
	*DB
}

// newIntegrationDB starts Postgres, applies the migrations and registers teardown with t.
// It skips the test in -short mode.
func newIntegrationDB(t *testing.T) *integrationDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("riskengine_test"),
		tcpostgres.WithUsername("riskengine"),
		tcpostgres.WithPassword("riskengine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(dsn)
	require.NoError(t, err, "connect to postgres container")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(migrationsDir()), "apply migrations")
	return &integrationDB{DB: db}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations")
}

// reset empties every repository table so subtests start clean
func (idb *integrationDB) reset(t *testing.T) {
	t.Helper()
	for _, table := range repositoryTables {
		_, err := idb.conn.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}
}

// scalar runs a single-value query against the raw connection
func (idb *integrationDB) scalar(t *testing.T, dest any, query string, args ...any) {
	t.Helper()
	require.NoError(t, idb.conn.QueryRow(query, args...).Scan(dest))
}
