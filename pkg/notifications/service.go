package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/pagination"
)

const defaultSendConcurrency = 8

// Service manages in-app notifications and device pushes
type Service struct {
	store       *Store
	pusher      Pusher
	metrics     *observability.Metrics
	policy      *bluemonday.Policy
	concurrency int
}

// NewService creates a notification service. concurrency bounds in-flight
// FCM requests per Send.
func NewService(store *Store, pusher Pusher, metrics *observability.Metrics, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultSendConcurrency
	}
	return &Service{
		store:       store,
		pusher:      pusher,
		metrics:     metrics,
		policy:      bluemonday.StrictPolicy(),
		concurrency: concurrency,
	}
}

func (s *Service) sanitize(v string) string {
	return strings.TrimSpace(s.policy.Sanitize(v))
}

// Create stores a notification for req.UserID
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	n := &Notification{
		UserID:  req.UserID,
		Title:   s.sanitize(req.Title),
		Message: s.sanitize(req.Message),
		Type:    req.Type,
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// List returns userID's notifications newest first
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, p pagination.CursorParams) (pagination.Page[Notification], error) {
	rows, err := s.store.ListForUser(ctx, userID, unreadOnly, p)
	if err != nil {
		return pagination.Page[Notification]{}, err
	}
	return pagination.NewPage(rows, p, func(n Notification) (interface{}, string) {
		return pagination.TimeValue(n.CreatedDatetime), n.ID
	}), nil
}

// MarkRead marks one of userID's notifications read
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	return s.store.MarkRead(ctx, id, userID)
}

// MarkAllRead marks every notification of userID read
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// UnreadCount counts userID's unread notifications
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// RegisterToken registers a device for userID, taking the token over from
// any previous owner
func (s *Service) RegisterToken(ctx context.Context, userID string, req RegisterTokenRequest) (*PushToken, error) {
	t := &PushToken{UserID: userID, Token: req.Token, Platform: req.Platform}
	if err := s.store.RegisterToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveToken unregisters userID's device. Unknown tokens are not an error.
func (s *Service) RemoveToken(ctx context.Context, userID, token string) error {
	_, err := s.store.RemoveToken(ctx, userID, token)
	return err
}

// SendResult counts per-token outcomes of one Send
type SendResult struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	Removed      int `json:"removed_tokens"`
}

// Send pushes to the devices of req.UserIDs, or every device when none are
// listed. It reports whether at least one device accepted the message.
func (s *Service) Send(ctx context.Context, req SendRequest) (bool, error) {
	result, err := s.SendDetailed(ctx, req)
	if err != nil {
		return false, err
	}
	return result.SuccessCount > 0, nil
}

// SendDetailed is Send with per-token counts
func (s *Service) SendDetailed(ctx context.Context, req SendRequest) (SendResult, error) {
	logger := observability.FromContext(ctx)

	tokens, err := s.store.Tokens(ctx, req.UserIDs)
	if err != nil {
		return SendResult{}, err
	}
	if len(tokens) == 0 {
		logger.Warn("No push tokens found for notification")
		return SendResult{}, nil
	}

	msg := PushMessage{
		Title: s.sanitize(req.Title),
		Body:  s.sanitize(req.Message),
		Data:  req.Data,
	}

	var (
		mu           sync.Mutex
		result       SendResult
		unregistered []string
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, t := range tokens {
		token := t.Token
		g.Go(func() error {
			// a cancelled caller stops the remaining deliveries
			if err := ctx.Err(); err != nil {
				return err
			}
			err := s.pusher.Push(ctx, token, msg)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.SuccessCount++
			case errors.Is(err, ErrUnregistered):
				result.FailureCount++
				unregistered = append(unregistered, token)
			default:
				result.FailureCount++
				logger.WithError(err).WithField("token", tokenPrefix(token)).Warn("Push delivery failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.RecordPush(result.SuccessCount, result.FailureCount)
		logger.WithError(err).Warnf("Push fan-out stopped after %d success, %d failures",
			result.SuccessCount, result.FailureCount)
		return result, fmt.Errorf("push fan-out interrupted: %w", err)
	}

	if len(unregistered) > 0 {
		n, err := s.store.DeleteTokens(ctx, unregistered)
		if err != nil {
			logger.WithError(err).Error("Failed to delete unregistered push tokens")
		}
		result.Removed = int(n)
	}

	s.metrics.RecordPush(result.SuccessCount, result.FailureCount)
	logger.Infof("FCM result: %d success, %d failures", result.SuccessCount, result.FailureCount)
	return result, nil
}
