package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/pagination"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// Columns accepted by order_by on GET /notifications
var Columns = pagination.Columns{
	"created_datetime": {Expr: "created_datetime", Cast: "timestamptz"},
}

const notificationColumns = `id, user_id, title, message, type, is_read, created_datetime, updated_datetime`

const tokenColumns = `id, user_id, token, platform, created_datetime`

// Store persists notifications and push tokens
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row scanner) (*Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead,
		&n.CreatedDatetime, &n.UpdatedDatetime); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanToken(row scanner) (*PushToken, error) {
	var t PushToken
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedDatetime); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts n, assigning its ID and timestamps
func (s *Store) Create(ctx context.Context, n *Notification) error {
	now := time.Now().UTC()
	n.ID = uuid.NewString()
	n.CreatedDatetime, n.UpdatedDatetime = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, is_read, created_datetime, updated_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, n.IsRead, now, now)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return ErrRecipientNotFound
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListForUser returns one keyset page of userID's notifications, including
// the look-ahead row
func (s *Store) ListForUser(ctx context.Context, userID string, unreadOnly bool, p pagination.CursorParams) ([]Notification, error) {
	ks, err := p.Keyset(Columns, "id", true, 2)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	if ks.Where != "" {
		query += ` AND ` + ks.Where
	}
	query += fmt.Sprintf(` ORDER BY %s LIMIT %d`, ks.OrderBy, ks.Limit)

	rows, err := s.db.QueryContext(ctx, query, append([]interface{}{userID}, ks.Args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkRead flags the notification read when userID owns it
func (s *Store) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotificationNotFound
	}
	n, err := scanNotification(s.db.QueryRowContext(ctx, `
		UPDATE notifications SET is_read = TRUE, updated_datetime = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

// MarkAllRead flags every unread notification of userID read
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE, updated_datetime = NOW() WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// UnreadCount counts userID's unread notifications
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

// PurgeRead deletes read notifications created before cutoff
func (s *Store) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE is_read AND created_datetime < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return res.RowsAffected()
}

// RegisterToken moves token to userID: any existing row for the token is
// removed first, in the same transaction.
func (s *Store) RegisterToken(ctx context.Context, t *PushToken) error {
	t.ID = uuid.NewString()
	t.CreatedDatetime = time.Now().UTC()

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = $1`, t.Token); err != nil {
			return fmt.Errorf("failed to replace push token: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO push_tokens (id, user_id, token, platform, created_datetime, updated_datetime)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, t.ID, t.UserID, t.Token, t.Platform, t.CreatedDatetime)
		if err != nil {
			return fmt.Errorf("failed to register push token: %w", err)
		}
		return nil
	})
}

// RemoveToken deletes userID's registration of token and reports whether
// one existed
func (s *Store) RemoveToken(ctx context.Context, userID, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return false, fmt.Errorf("failed to remove push token: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Tokens returns the tokens of userIDs, or every token when userIDs is empty
func (s *Store) Tokens(ctx context.Context, userIDs []string) ([]PushToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM push_tokens`
	var args []interface{}
	if len(userIDs) > 0 {
		query += ` WHERE user_id = ANY($1::uuid[])`
		args = append(args, pq.Array(userIDs))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens: %w", err)
	}
	defer rows.Close()

	out := []PushToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTokens removes the given tokens regardless of owner
func (s *Store) DeleteTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = ANY($1)`, pq.Array(tokens))
	if err != nil {
		return 0, fmt.Errorf("failed to delete push tokens: %w", err)
	}
	return res.RowsAffected()
}

// PurgeStaleTokens deletes tokens belonging to deleted or inactive users
func (s *Store) PurgeStaleTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM push_tokens pt
		USING users u
		WHERE pt.user_id = u.id AND (u.deleted_datetime IS NOT NULL OR NOT u.is_active)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge push tokens: %w", err)
	}
	return res.RowsAffected()
}
