package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema migrations in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					public_id VARCHAR(36) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL UNIQUE,
					phone_number VARCHAR(20) UNIQUE,
					password VARCHAR(255) NOT NULL,
					first_name VARCHAR(100) NOT NULL,
					middle_name VARCHAR(100),
					last_name VARCHAR(100) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_verified BOOLEAN NOT NULL DEFAULT FALSE,
					last_login_datetime TIMESTAMPTZ,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_datetime TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_users_created_datetime ON users(created_datetime, id);
				CREATE INDEX IF NOT EXISTS idx_users_deleted_datetime ON users(deleted_datetime);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id UUID PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					code VARCHAR(100) NOT NULL UNIQUE,
					description VARCHAR(255),
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description VARCHAR(255),
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_single_default ON roles(is_default) WHERE is_default;

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Create two_factor_auth table",
			SQL: `
				CREATE TABLE IF NOT EXISTS two_factor_auth (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
					secret_key VARCHAR(64) NOT NULL,
					is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					backup_codes JSONB NOT NULL DEFAULT '[]',
					last_used_datetime TIMESTAMPTZ,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     4,
			Description: "Create files table",
			SQL: `
				CREATE TABLE IF NOT EXISTS files (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					filename VARCHAR(255) NOT NULL,
					original_filename VARCHAR(255) NOT NULL,
					content_type VARCHAR(100) NOT NULL,
					size BIGINT NOT NULL,
					storage_provider VARCHAR(20) NOT NULL,
					storage_key VARCHAR(500) NOT NULL,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_files_user_created ON files(user_id, created_datetime DESC, id);
			`,
		},
		{
			Version:     5,
			Description: "Create notifications and push_tokens tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL,
					message TEXT NOT NULL,
					type VARCHAR(50) NOT NULL DEFAULT 'info',
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_datetime DESC, id);
				CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id) WHERE NOT is_read;

				CREATE TABLE IF NOT EXISTS push_tokens (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token VARCHAR(500) NOT NULL UNIQUE,
					platform VARCHAR(20) NOT NULL,
					created_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_push_tokens_user_id ON push_tokens(user_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations,
// each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", m.Version, m.Description)

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
