// Package jobs schedules database maintenance with robfig/cron.
//
// Three jobs ship by default: deleting read notifications older than
// WARDEN_NOTIFICATION_RETENTION, deleting push tokens of deleted or
// inactive users, and hard-deleting users soft-deleted longer than
// WARDEN_USER_RETENTION. cmd/warden-maintenance runs them on their
// schedules, or once with --run-once.
package jobs
