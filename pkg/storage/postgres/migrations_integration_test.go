//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/warden/pkg/observability"
)

// setupPostgres starts a PostgreSQL container and returns an open handle
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("warden_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	return db
}

func TestRunMigrations_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	logger := observability.NewNopLogger()

	require.NoError(t, RunMigrations(ctx, db, logger))
	// Second run is a no-op.
	require.NoError(t, RunMigrations(ctx, db, logger))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(Migrations()), applied)

	for _, table := range []string{
		"users", "roles", "permissions", "role_permissions", "user_roles",
		"user_permissions", "two_factor_auth", "files", "notifications", "push_tokens",
	} {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestUniqueViolation_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db, observability.NewNopLogger()))

	insert := `INSERT INTO permissions (id, name, code) VALUES (gen_random_uuid(), $1, $2)`
	_, err := db.ExecContext(ctx, insert, "Read users", "user:read")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "Read users again", "user:read")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, "permissions_code_key", ConstraintName(err))
}
