package jobs

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/config"
)

// Job is one maintenance task. Run returns the number of rows it affected.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// NotificationPurger deletes old read notifications
type NotificationPurger interface {
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenPurger deletes push tokens of users who can no longer receive pushes
type TokenPurger interface {
	PurgeStaleTokens(ctx context.Context) (int64, error)
}

// UserPurger hard-deletes users soft-deleted before cutoff
type UserPurger interface {
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// StoragePurger removes the stored objects of users about to be purged
type StoragePurger interface {
	PurgeDeletedOwners(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job names
const (
	PurgeNotifications = "purge-read-notifications"
	PurgePushTokens    = "purge-stale-push-tokens"
	PurgeUsers         = "purge-deleted-users"
)

const defaultTimeout = 10 * time.Minute

// DefaultJobs returns the maintenance jobs configured by cfg. The user purge
// clears storage first with the same cutoff; a storage failure skips the
// purge until the next run. storage may be nil.
func DefaultJobs(cfg config.MaintenanceConfig, notifications NotificationPurger, tokens TokenPurger,
	users UserPurger, storage StoragePurger) []Job {
	return []Job{
		{
			Name:     PurgeNotifications,
			Schedule: cfg.NotificationSchedule,
			Run: func(ctx context.Context) (int64, error) {
				return notifications.PurgeRead(ctx, time.Now().UTC().Add(-cfg.NotificationRetention))
			},
		},
		{
			Name:     PurgePushTokens,
			Schedule: cfg.PushTokenSchedule,
			Run:      tokens.PurgeStaleTokens,
		},
		{
			Name:     PurgeUsers,
			Schedule: cfg.UserPurgeSchedule,
			Run: func(ctx context.Context) (int64, error) {
				cutoff := time.Now().UTC().Add(-cfg.UserRetention)
				if storage != nil {
					if _, err := storage.PurgeDeletedOwners(ctx, cutoff); err != nil {
						return 0, err
					}
				}
				return users.PurgeDeleted(ctx, cutoff)
			},
		},
	}
}
