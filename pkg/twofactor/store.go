package twofactor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the user never set up 2FA
var ErrNotFound = errors.New("two-factor record not found")

// Record is a user's two_factor_auth row
type Record struct {
	ID               string
	UserID           string
	SecretKey        string
	IsEnabled        bool
	BackupCodes      []string
	LastUsedDatetime *time.Time
	CreatedDatetime  time.Time
	UpdatedDatetime  time.Time
}

// Store persists 2FA records
type Store struct {
	db *sql.DB
}

// NewStore creates a 2FA store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the user's record or ErrNotFound
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	var codes []byte
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, secret_key, is_enabled, backup_codes, last_used_datetime, created_datetime, updated_datetime
		FROM two_factor_auth WHERE user_id = $1
	`, userID).Scan(&rec.ID, &rec.UserID, &rec.SecretKey, &rec.IsEnabled, &codes, &lastUsed,
		&rec.CreatedDatetime, &rec.UpdatedDatetime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get 2FA record: %w", err)
	}
	if err := json.Unmarshal(codes, &rec.BackupCodes); err != nil {
		return nil, fmt.Errorf("failed to decode backup codes: %w", err)
	}
	if lastUsed.Valid {
		rec.LastUsedDatetime = &lastUsed.Time
	}
	return &rec, nil
}

// Upsert stores a fresh disabled secret and backup codes, replacing any
// previous setup of the user
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	codes, err := json.Marshal(rec.BackupCodes)
	if err != nil {
		return fmt.Errorf("failed to encode backup codes: %w", err)
	}
	now := time.Now().UTC()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO two_factor_auth (id, user_id, secret_key, is_enabled, backup_codes, created_datetime, updated_datetime)
		VALUES ($1, $2, $3, FALSE, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_key = EXCLUDED.secret_key, backup_codes = EXCLUDED.backup_codes,
			is_enabled = FALSE, updated_datetime = EXCLUDED.updated_datetime
		RETURNING id, created_datetime
	`, uuid.NewString(), rec.UserID, rec.SecretKey, string(codes), now).Scan(&rec.ID, &rec.CreatedDatetime)
	if err != nil {
		return fmt.Errorf("failed to save 2FA setup: %w", err)
	}
	rec.IsEnabled = false
	rec.UpdatedDatetime = now
	return nil
}

// SetEnabled switches 2FA on or off and records the use
func (s *Store) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE two_factor_auth SET is_enabled = $2, last_used_datetime = NOW(), updated_datetime = NOW()
		WHERE user_id = $1
	`, userID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update 2FA state: %w", err)
	}
	return nil
}

// TouchLastUsed records a successful code check
func (s *Store) TouchLastUsed(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE two_factor_auth SET last_used_datetime = NOW() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to update 2FA last use: %w", err)
	}
	return nil
}

// ConsumeBackupCode removes code from the user's unused backup codes. It
// reports false when the code was not there; two concurrent uses of one
// code cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE two_factor_auth
		SET backup_codes = backup_codes - $2::text, last_used_datetime = NOW(), updated_datetime = NOW()
		WHERE user_id = $1 AND jsonb_exists(backup_codes, $2)
	`, userID, code)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
