package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
)

type purgeRecorder struct {
	notificationCutoff time.Time
	userCutoff         time.Time
	storageCutoff      time.Time
	tokenCalls         int
	userCalls          int
	userErr            error
	storageErr         error
}

func (p *purgeRecorder) PurgeRead(_ context.Context, cutoff time.Time) (int64, error) {
	p.notificationCutoff = cutoff
	return 3, nil
}

func (p *purgeRecorder) PurgeStaleTokens(context.Context) (int64, error) {
	p.tokenCalls++
	return 1, nil
}

func (p *purgeRecorder) PurgeDeleted(_ context.Context, cutoff time.Time) (int64, error) {
	p.userCalls++
	p.userCutoff = cutoff
	return 0, p.userErr
}

func (p *purgeRecorder) PurgeDeletedOwners(_ context.Context, cutoff time.Time) (int64, error) {
	p.storageCutoff = cutoff
	return 2, p.storageErr
}

func testLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, &buf
}

var maintenance = config.MaintenanceConfig{
	NotificationSchedule:  "30 2 * * *",
	NotificationRetention: 90 * 24 * time.Hour,
	PushTokenSchedule:     "45 2 * * *",
	UserPurgeSchedule:     "0 3 * * 0",
	UserRetention:         30 * 24 * time.Hour,
}

func TestScheduler_RunAll(t *testing.T) {
	rec := &purgeRecorder{}
	logger, buf := testLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewScheduler(logger, metrics)

	for _, job := range DefaultJobs(maintenance, rec, rec, rec, rec) {
		require.NoError(t, s.Add(job))
	}

	require.NoError(t, s.RunAll(context.Background()))

	assert.WithinDuration(t, time.Now().Add(-maintenance.NotificationRetention), rec.notificationCutoff, time.Minute)
	assert.WithinDuration(t, time.Now().Add(-maintenance.UserRetention), rec.userCutoff, time.Minute)
	assert.Equal(t, rec.userCutoff, rec.storageCutoff, "storage is cleared for exactly the purged users")
	assert.Equal(t, 1, rec.tokenCalls)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BackgroundTasksTotal.WithLabelValues("success")))
	assert.Contains(t, buf.String(), `"job":"purge-read-notifications"`)
	assert.Contains(t, buf.String(), `"affected":3`)
}

func TestScheduler_RunAllCollectsErrors(t *testing.T) {
	rec := &purgeRecorder{userErr: errors.New("lock timeout")}
	logger, _ := testLogger()
	s := NewScheduler(logger, nil)
	for _, job := range DefaultJobs(maintenance, rec, rec, rec, rec) {
		require.NoError(t, s.Add(job))
	}

	err := s.RunAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), PurgeUsers)
	assert.Contains(t, err.Error(), "lock timeout")
	// the failing job does not stop the others
	assert.Equal(t, 1, rec.tokenCalls)
}

func TestPurgeUsers_StorageFailureSkipsPurge(t *testing.T) {
	rec := &purgeRecorder{storageErr: errors.New("access denied")}
	var purge Job
	for _, job := range DefaultJobs(maintenance, rec, rec, rec, rec) {
		if job.Name == PurgeUsers {
			purge = job
		}
	}
	require.NotNil(t, purge.Run)

	_, err := purge.Run(context.Background())
	assert.EqualError(t, err, "access denied")
	assert.Zero(t, rec.userCalls, "rows are kept so the objects can be retried")
}

func TestPurgeUsers_WithoutStorage(t *testing.T) {
	rec := &purgeRecorder{}
	jobs := DefaultJobs(maintenance, rec, rec, rec, nil)

	for _, job := range jobs {
		if job.Name == PurgeUsers {
			_, err := job.Run(context.Background())
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, rec.userCalls)
	assert.True(t, rec.storageCutoff.IsZero())
}

func TestScheduler_AddRejectsBadSchedule(t *testing.T) {
	logger, _ := testLogger()
	s := NewScheduler(logger, nil)

	tests := []struct {
		name     string
		schedule string
	}{
		{name: "empty", schedule: ""},
		{name: "malformed", schedule: "every day"},
		{name: "seconds field", schedule: "0 30 2 * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(Job{Name: "x", Schedule: tt.schedule, Run: func(context.Context) (int64, error) { return 0, nil }})
			assert.Error(t, err)
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	logger, _ := testLogger()
	s := NewScheduler(logger, nil)
	require.NoError(t, s.Add(Job{Name: "noop", Schedule: "@hourly", Run: func(context.Context) (int64, error) { return 0, nil }}))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
