package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const permissionColumns = `id, name, code, description, created_datetime, updated_datetime`

const roleColumns = `id, name, description, is_default, is_system, created_datetime, updated_datetime`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(row scanner) (*Permission, error) {
	var p Permission
	var desc sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &desc, &p.CreatedDatetime, &p.UpdatedDatetime); err != nil {
		return nil, err
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	return &p, nil
}

func scanRole(row scanner) (*Role, error) {
	var r Role
	var desc sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.IsDefault, &r.IsSystem, &r.CreatedDatetime, &r.UpdatedDatetime); err != nil {
		return nil, err
	}
	if desc.Valid {
		r.Description = &desc.String
	}
	r.Permissions = []Permission{}
	return &r, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Permissions

// CreatePermission inserts p, assigning its ID and timestamps
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedDatetime, p.UpdatedDatetime = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, code, description, created_datetime, updated_datetime)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Code, p.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetPermissionByCode retrieves a permission by code
func (s *Store) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetPermissionsByIDs returns the permissions that exist among ids
func (s *Store) GetPermissionsByIDs(ctx context.Context, ids []string) ([]Permission, error) {
	if len(ids) == 0 {
		return []Permission{}, nil
	}
	return s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1::uuid[]) ORDER BY code`,
		pq.Array(ids))
}

// UpdatePermission writes name, code and description
func (s *Store) UpdatePermission(ctx context.Context, p *Permission) error {
	p.UpdatedDatetime = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET name = $2, code = $3, description = $4, updated_datetime = $5
		WHERE id = $1
	`, p.ID, p.Name, p.Code, p.Description, p.UpdatedDatetime)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	return requireRow(res)
}

// DeletePermission deletes a permission and, by cascade, its assignments
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return requireRow(res)
}

// ListPermissions returns one page ordered by code and the total count
func (s *Store) ListPermissions(ctx context.Context, offset, limit int) ([]Permission, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count permissions: %w", err)
	}

	perms, err := s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM permissions ORDER BY code, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// Roles

// CreateRole inserts role with the given permissions. A default role takes
// the flag away from the previous default in the same transaction.
func (s *Store) CreateRole(ctx context.Context, role *Role, permissionIDs []string) error {
	now := time.Now().UTC()
	role.ID = uuid.NewString()
	role.CreatedDatetime, role.UpdatedDatetime = now, now

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if role.IsDefault {
			if err := clearDefault(ctx, tx, role.ID); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO roles (id, name, description, is_default, is_system, created_datetime, updated_datetime)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, role.ID, role.Name, role.Description, role.IsDefault, role.IsSystem, now, now)
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		return setRolePermissions(ctx, tx, role.ID, permissionIDs)
	})
}

// UpdateRole writes the role's fields. permissionIDs replaces the role's
// permission set when non-nil.
func (s *Store) UpdateRole(ctx context.Context, role *Role, permissionIDs *[]string) error {
	role.UpdatedDatetime = time.Now().UTC()

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if role.IsDefault {
			if err := clearDefault(ctx, tx, role.ID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE roles SET name = $2, description = $3, is_default = $4, updated_datetime = $5
			WHERE id = $1
		`, role.ID, role.Name, role.Description, role.IsDefault, role.UpdatedDatetime)
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}

		if permissionIDs == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		return setRolePermissions(ctx, tx, role.ID, *permissionIDs)
	})
}

func clearDefault(ctx context.Context, q postgres.Querier, exceptID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE roles SET is_default = FALSE, updated_datetime = NOW()
		WHERE is_default AND id <> $1
	`, exceptID)
	if err != nil {
		return fmt.Errorf("failed to clear default role: %w", err)
	}
	return nil
}

func setRolePermissions(ctx context.Context, q postgres.Querier, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`, roleID, pq.Array(permissionIDs))
	if err != nil {
		return fmt.Errorf("failed to set role permissions: %w", err)
	}
	return nil
}

// AddRolePermissions adds permissions to a role, keeping the existing ones
func (s *Store) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return setRolePermissions(ctx, s.db, roleID, permissionIDs)
}

// GetRole retrieves a role and its permissions
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadPermissions(ctx, []*Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRoleByName retrieves a role by name, without permissions
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err)
	}
	return role, nil
}

// GetDefaultRole returns the role given to new users
func (s *Store) GetDefaultRole(ctx context.Context) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_default LIMIT 1`))
	if err != nil {
		return nil, notFound(err)
	}
	return role, nil
}

// DeleteRole deletes a role and its assignments
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireRow(res)
}

// ListRoles returns one page ordered by name, with permissions, and the total count
func (s *Store) ListRoles(ctx context.Context, offset, limit int) ([]Role, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
	}

	roles, err := s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}

	var ptrs []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		ptrs = append(ptrs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadPermissions(ctx, ptrs); err != nil {
		return nil, err
	}

	roles := make([]Role, 0, len(ptrs))
	for _, r := range ptrs {
		roles = append(roles, *r)
	}
	return roles, nil
}

// loadPermissions fills Permissions of every role with one query
func (s *Store) loadPermissions(ctx context.Context, roles []*Role) error {
	if len(roles) == 0 {
		return nil
	}
	byID := make(map[string]*Role, len(roles))
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, p.id, p.name, p.code, p.description, p.created_datetime, p.updated_datetime
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1::uuid[])
		ORDER BY p.code
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID string
		var p Permission
		var desc sql.NullString
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Code, &desc, &p.CreatedDatetime, &p.UpdatedDatetime); err != nil {
			return fmt.Errorf("failed to scan role permission: %w", err)
		}
		if desc.Valid {
			p.Description = &desc.String
		}
		if r, ok := byID[roleID]; ok {
			r.Permissions = append(r.Permissions, p)
		}
	}
	return rows.Err()
}

// User assignments

// UserPermissionCodes returns the union of the codes granted through the
// user's roles and the codes granted directly.
func (s *Store) UserPermissionCodes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.code FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		UNION
		SELECT p.code FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user permissions: %w", err)
	}
	return scanStrings(rows)
}

// UserRoleNames returns the names of the user's roles
func (s *Store) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	return scanStrings(rows)
}

// UserRoles returns the user's roles without their permissions
func (s *Store) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.is_default, r.is_system, r.created_datetime, r.updated_datetime
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

// UserDirectPermissions returns permissions assigned to the user directly
func (s *Store) UserDirectPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT p.id, p.name, p.code, p.description, p.created_datetime, p.updated_datetime
		FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1
		ORDER BY p.code
	`, userID)
}

// RolesByUsers returns the roles of each of userIDs, without permissions
func (s *Store) RolesByUsers(ctx context.Context, userIDs []string) (map[string][]Role, error) {
	out := make(map[string][]Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.id, r.name, r.description, r.is_default, r.is_system, r.created_datetime, r.updated_datetime
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1::uuid[])
		ORDER BY r.name
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var r Role
		var desc sql.NullString
		if err := rows.Scan(&userID, &r.ID, &r.Name, &desc, &r.IsDefault, &r.IsSystem, &r.CreatedDatetime, &r.UpdatedDatetime); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if desc.Valid {
			r.Description = &desc.String
		}
		r.Permissions = []Permission{}
		out[userID] = append(out[userID], r)
	}
	return out, rows.Err()
}

// DirectPermissionsByUsers returns the directly granted permissions of each of userIDs
func (s *Store) DirectPermissionsByUsers(ctx context.Context, userIDs []string) (map[string][]Permission, error) {
	out := make(map[string][]Permission, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.user_id, p.id, p.name, p.code, p.description, p.created_datetime, p.updated_datetime
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = ANY($1::uuid[])
		ORDER BY p.code
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query user permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var p Permission
		var desc sql.NullString
		if err := rows.Scan(&userID, &p.ID, &p.Name, &p.Code, &desc, &p.CreatedDatetime, &p.UpdatedDatetime); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		if desc.Valid {
			p.Description = &desc.String
		}
		out[userID] = append(out[userID], p)
	}
	return out, rows.Err()
}

// AssignRole gives the user a role; assigning twice is a no-op
func (s *Store) AssignRole(ctx context.Context, q postgres.Querier, userID, roleID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from the user; missing assignments are ignored
func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// GrantPermission gives the user a permission directly
func (s *Store) GrantPermission(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a directly assigned permission
func (s *Store) RevokePermission(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// DB exposes the handle for callers that need AssignRole inside their own
// transaction
func (s *Store) DB() *sql.DB {
	return s.db
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
