package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/pagination"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// Columns accepted by order_by on GET /admin/users
var Columns = pagination.Columns{
	"id":               {Expr: "id", Cast: "uuid"},
	"email":            {Expr: "email", Cast: "text"},
	"created_datetime": {Expr: "created_datetime", Cast: "timestamptz"},
	"updated_datetime": {Expr: "updated_datetime", Cast: "timestamptz"},
	"first_name":       {Expr: "first_name", Cast: "text"},
	"last_name":        {Expr: "last_name", Cast: "text"},
}

const userColumns = `id, public_id, email, phone_number, password, first_name, middle_name, last_name,
	is_active, is_verified, last_login_datetime, created_datetime, updated_datetime, deleted_datetime`

// Store persists users
type Store struct {
	db *sql.DB
}

// NewStore creates a user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	var phone, middle sql.NullString
	var lastLogin, deleted sql.NullTime
	err := row.Scan(&u.ID, &u.PublicID, &u.Email, &phone, &u.PasswordHash, &u.FirstName, &middle, &u.LastName,
		&u.IsActive, &u.IsVerified, &lastLogin, &u.CreatedDatetime, &u.UpdatedDatetime, &deleted)
	if err != nil {
		return nil, err
	}
	if phone.Valid {
		u.PhoneNumber = &phone.String
	}
	if middle.Valid {
		u.MiddleName = &middle.String
	}
	if lastLogin.Valid {
		u.LastLoginDatetime = &lastLogin.Time
	}
	if deleted.Valid {
		u.DeletedDatetime = &deleted.Time
	}
	return &u, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrUserNotFound
	}
	return err
}

// Insert writes a new user through q, assigning ID, public ID and timestamps
func (s *Store) Insert(ctx context.Context, q postgres.Querier, u *auth.User) error {
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.PublicID = uuid.NewString()
	u.CreatedDatetime, u.UpdatedDatetime = now, now

	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, public_id, email, phone_number, password, first_name, middle_name, last_name,
			is_active, is_verified, created_datetime, updated_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.PublicID, u.Email, u.PhoneNumber, u.PasswordHash, u.FirstName, u.MiddleName, u.LastName,
		u.IsActive, u.IsVerified, now, now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user. Soft-deleted users are only returned with includeDeleted.
func (s *Store) GetByID(ctx context.Context, id string, includeDeleted bool) (*auth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, auth.ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_datetime IS NULL`
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, deleted or not. Emails compare
// case-insensitively.
func (s *Store) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetByPhone retrieves a user by normalized phone number
func (s *Store) GetByPhone(ctx context.Context, phone string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// List returns one keyset page, including the look-ahead row
func (s *Store) List(ctx context.Context, p pagination.CursorParams, includeDeleted bool) ([]auth.User, error) {
	ks, err := p.Keyset(Columns, "id", false, 1)
	if err != nil {
		return nil, err
	}

	var where []string
	if !includeDeleted {
		where = append(where, "deleted_datetime IS NULL")
	}
	if ks.Where != "" {
		where = append(where, ks.Where)
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY %s LIMIT %d`, ks.OrderBy, ks.Limit)

	return s.query(ctx, query, ks.Args...)
}

// ListByRole returns the live users holding roleID
func (s *Store) ListByRole(ctx context.Context, roleID string) ([]auth.User, error) {
	return s.query(ctx, `
		SELECT `+prefixed("u.", userColumns)+`
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1 AND u.deleted_datetime IS NULL
		ORDER BY u.email
	`, roleID)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	out := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Update writes the mutable profile and status fields
func (s *Store) Update(ctx context.Context, u *auth.User) error {
	u.UpdatedDatetime = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET phone_number = $2, first_name = $3, middle_name = $4, last_name = $5,
			is_active = $6, is_verified = $7, updated_datetime = $8
		WHERE id = $1
	`, u.ID, u.PhoneNumber, u.FirstName, u.MiddleName, u.LastName, u.IsActive, u.IsVerified, u.UpdatedDatetime)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res)
}

// SoftDelete marks the user deleted and inactive
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET deleted_datetime = NOW(), is_active = FALSE, updated_datetime = NOW()
		WHERE id = $1 AND deleted_datetime IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRow(res)
}

// UpdatePassword stores a new password hash
func (s *Store) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = $2, updated_datetime = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(res)
}

// TouchLastLogin records a successful login
func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_datetime = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// PurgeDeleted hard-deletes users soft-deleted before cutoff. Their roles,
// permissions, files, notifications and tokens go with them by cascade.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE deleted_datetime IS NOT NULL AND deleted_datetime < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge users: %w", err)
	}
	return res.RowsAffected()
}

// DB exposes the handle so Create can share a transaction with role assignment
func (s *Store) DB() *sql.DB {
	return s.db
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
