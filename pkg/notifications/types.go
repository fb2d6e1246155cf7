package notifications

import (
	"time"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// Notification types
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
)

// Push platforms
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

var (
	ErrNotificationNotFound = httputil.NotFound("Notification not found")
	ErrRecipientNotFound    = httputil.NotFound("Recipient user not found")
)

// Notification is an in-app message for one user
type Notification struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Type            string    `json:"type"`
	IsRead          bool      `json:"is_read"`
	CreatedDatetime time.Time `json:"created_datetime"`
	UpdatedDatetime time.Time `json:"updated_datetime"`
}

// PushToken is a device registration
type PushToken struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Token           string    `json:"token"`
	Platform        string    `json:"platform"`
	CreatedDatetime time.Time `json:"created_datetime"`
}

// CreateRequest is the body of POST /notifications
type CreateRequest struct {
	UserID  string `json:"user_id" validate:"required,uuid"`
	Title   string `json:"title" validate:"required,max=255"`
	Message string `json:"message" validate:"required"`
	Type    string `json:"type" validate:"omitempty,oneof=info success warning error"`
}

// RegisterTokenRequest is the body of POST /push/register
type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required,max=500"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// SendRequest is the body of POST /push/send. An empty UserIDs sends to
// every registered device.
type SendRequest struct {
	Title   string            `json:"title" validate:"required,max=255"`
	Message string            `json:"message" validate:"required"`
	UserIDs []string          `json:"user_ids" validate:"omitempty,dive,uuid"`
	Data    map[string]string `json:"data"`
}

// UnreadCount is the body of GET /notifications/unread-count
type UnreadCount struct {
	Count int `json:"count"`
}
