package services

import (
	"context"
	"testing"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestScheduler(t *testing.T) (*PullScheduler, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t)
	tenantService := NewTenantService(db, testEncryptionKey)
	pullService := NewPullService(db, tenantService)
	return NewPullScheduler(db, pullService, tenantService, NewLogService(db)), db
}

func TestPulledToday(t *testing.T) {
	scheduler, db := newTestScheduler(t)
	tenant := seedTenant(t, db, "contoso")

	now := time.Now().UTC()
	assert.False(t, scheduler.pulledToday(tenant.ID, now))

	// A manual pull today does not count against the daily schedule
	require.NoError(t, db.Create(&models.PullRun{
		TenantID:      tenant.ID,
		StartTime:     now.Add(-time.Minute),
		PullStartDate: now.AddDate(0, 0, -1),
		PullEndDate:   now,
		Status:        string(models.PullStatusSuccess),
		TriggerType:   string(models.TriggerManual),
	}).Error)
	assert.False(t, scheduler.pulledToday(tenant.ID, now))

	// Yesterday's scheduled pull does not count either
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.PullRun{
		TenantID:      tenant.ID,
		StartTime:     midnight.Add(-2 * time.Hour),
		PullStartDate: now.AddDate(0, 0, -2),
		PullEndDate:   now.AddDate(0, 0, -1),
		Status:        string(models.PullStatusSuccess),
		TriggerType:   string(models.TriggerScheduled),
	}).Error)
	assert.False(t, scheduler.pulledToday(tenant.ID, now))

	// Today's scheduled pull blocks a second one, whatever its outcome
	require.NoError(t, db.Create(&models.PullRun{
		TenantID:      tenant.ID,
		StartTime:     midnight.Add(time.Hour),
		PullStartDate: now.AddDate(0, 0, -1),
		PullEndDate:   now,
		Status:        string(models.PullStatusFailed),
		TriggerType:   string(models.TriggerScheduled),
	}).Error)
	assert.True(t, scheduler.pulledToday(tenant.ID, now))
}

func TestTickDoesNothingWhenDisabled(t *testing.T) {
	scheduler, db := newTestScheduler(t)
	seedTenant(t, db, "contoso")

	// Pin the schedule to 02:30 and switch scheduled pulls off. The
	// non-zero minute keeps the hourly domain sweep out of the picture.
	enabled := false
	hour := 2
	minute := 30
	_, err := scheduler.settingsService.UpdateSettings(1, UpdateSettingsInput{
		ScheduledPullEnabled: &enabled,
		ScheduledPullHour:    &hour,
		ScheduledPullMinute:  &minute,
	})
	require.NoError(t, err)

	// Exactly the configured time, but the switch is off
	scheduler.tick(context.Background(), time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC))

	var runCount int64
	db.Model(&models.PullRun{}).Count(&runCount)
	assert.Equal(t, int64(0), runCount)
}

func TestTickIgnoresNonMatchingTimes(t *testing.T) {
	scheduler, db := newTestScheduler(t)
	seedTenant(t, db, "contoso")

	hour := 2
	minute := 30
	_, err := scheduler.settingsService.UpdateSettings(1, UpdateSettingsInput{
		ScheduledPullHour:   &hour,
		ScheduledPullMinute: &minute,
	})
	require.NoError(t, err)

	// Pulls stay enabled; the clock just never matches 02:30
	for _, tickTime := range []time.Time{
		time.Date(2026, 3, 10, 2, 29, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 2, 31, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	} {
		scheduler.tick(context.Background(), tickTime)
	}

	var runCount int64
	db.Model(&models.PullRun{}).Count(&runCount)
	assert.Equal(t, int64(0), runCount)
}

func TestSchedulerStartStop(t *testing.T) {
	scheduler, _ := newTestScheduler(t)

	scheduler.Start()
	// A second Start on a running scheduler is a no-op
	scheduler.Start()

	scheduler.Stop()
	// Stop is idempotent too
	scheduler.Stop()
}

func TestSchedulerStopCancelsRunContext(t *testing.T) {
	scheduler, _ := newTestScheduler(t)

	scheduler.Start()

	scheduler.mu.Lock()
	require.NotNil(t, scheduler.cancel)
	scheduler.mu.Unlock()

	scheduler.Stop()

	// After Stop the scheduler no longer reports itself running
	scheduler.mu.Lock()
	running := scheduler.running
	scheduler.mu.Unlock()
	assert.False(t, running)
}
