package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/pagination"
)

// Columns accepted by order_by on GET /files
var Columns = pagination.Columns{
	"created_datetime": {Expr: "created_datetime", Cast: "timestamptz"},
	"filename":         {Expr: "original_filename", Cast: "text"},
	"size":             {Expr: "size", Cast: "bigint"},
}

const fileColumns = `id, user_id, filename, original_filename, content_type, size, storage_provider,
	storage_key, created_datetime, updated_datetime`

// File is the metadata row of one upload
type File struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"content_type"`
	Size             int64     `json:"size"`
	StorageProvider  string    `json:"storage_provider"`
	StorageKey       string    `json:"-"`
	CreatedDatetime  time.Time `json:"created_datetime"`
	UpdatedDatetime  time.Time `json:"updated_datetime"`
}

// Store persists file metadata
type Store struct {
	db *sql.DB
}

// NewStore creates a file store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row scanner) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.UserID, &f.Filename, &f.OriginalFilename, &f.ContentType, &f.Size,
		&f.StorageProvider, &f.StorageKey, &f.CreatedDatetime, &f.UpdatedDatetime)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Insert writes f, assigning its ID and timestamps
func (s *Store) Insert(ctx context.Context, f *File) error {
	now := time.Now().UTC()
	f.ID = uuid.NewString()
	f.CreatedDatetime, f.UpdatedDatetime = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, user_id, filename, original_filename, content_type, size,
			storage_provider, storage_key, created_datetime, updated_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, f.ID, f.UserID, f.Filename, f.OriginalFilename, f.ContentType, f.Size,
		f.StorageProvider, f.StorageKey, now, now)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetForUser returns the file when userID owns it
func (s *Store) GetForUser(ctx context.Context, id, userID string) (*File, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrFileNotFound
	}
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// ListForUser returns one keyset page of userID's files, including the
// look-ahead row
func (s *Store) ListForUser(ctx context.Context, userID string, p pagination.CursorParams) ([]File, error) {
	ks, err := p.Keyset(Columns, "id", true, 2)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1`
	if ks.Where != "" {
		query += ` AND ` + ks.Where
	}
	query += fmt.Sprintf(` ORDER BY %s LIMIT %d`, ks.OrderBy, ks.Limit)

	rows, err := s.db.QueryContext(ctx, query, append([]interface{}{userID}, ks.Args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	out := []File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Delete removes the row owned by userID
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

// OwnedByPurgeableUsers returns the files of users soft-deleted before cutoff,
// the rows a user purge is about to cascade away
func (s *Store) OwnedByPurgeableUsers(ctx context.Context, cutoff time.Time) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE user_id IN (SELECT id FROM users WHERE deleted_datetime IS NOT NULL AND deleted_datetime < $1)
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of deleted users: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
