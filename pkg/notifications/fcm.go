package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
)

// ErrUnregistered means the device token is no longer valid and should be
// forgotten
var ErrUnregistered = errors.New("push token unregistered")

// PushMessage is what a device receives
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// Pusher delivers a message to one device token
type Pusher interface {
	Push(ctx context.Context, token string, msg PushMessage) error
}

// NewPusher returns an FCM pusher when a project is configured and a
// logging pusher otherwise
func NewPusher(ctx context.Context, cfg config.PushConfig, logger *observability.Logger) (Pusher, error) {
	if !cfg.Enabled() {
		logger.Warn("FCM project not configured, push notifications will only be logged")
		return &LogPusher{logger: logger}, nil
	}
	return NewFCMPusher(ctx, cfg)
}

// FCMPusher sends through the Firebase Cloud Messaging HTTP v1 API
type FCMPusher struct {
	svc    *fcm.Service
	parent string
}

// NewFCMPusher loads the service account and opens an FCM client
func NewFCMPusher(ctx context.Context, cfg config.PushConfig) (*FCMPusher, error) {
	data, err := os.ReadFile(cfg.FCMCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read FCM credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, fcm.FirebaseMessagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FCM credentials: %w", err)
	}

	svc, err := fcm.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM client: %w", err)
	}
	return NewFCMPusherWithService(svc, cfg.FCMProjectID), nil
}

// NewFCMPusherWithService wraps an existing client
func NewFCMPusherWithService(svc *fcm.Service, projectID string) *FCMPusher {
	return &FCMPusher{svc: svc, parent: "projects/" + projectID}
}

// Push sends msg to token. A 404 from FCM maps to ErrUnregistered.
func (p *FCMPusher) Push(ctx context.Context, token string, msg PushMessage) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: token,
			Notification: &fcm.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		},
	}

	_, err := p.svc.Projects.Messages.Send(p.parent, req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return ErrUnregistered
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}
	return nil
}

// LogPusher logs pushes instead of sending them
type LogPusher struct {
	logger *observability.Logger
}

// Push logs the title and a token prefix
func (l *LogPusher) Push(_ context.Context, token string, msg PushMessage) error {
	l.logger.WithFields(map[string]interface{}{
		"token": tokenPrefix(token),
		"title": msg.Title,
	}).Info("Push not sent, FCM disabled")
	return nil
}

func tokenPrefix(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
