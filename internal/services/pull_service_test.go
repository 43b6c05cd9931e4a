package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestPullService(t *testing.T) (*PullService, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t)
	return NewPullService(db, NewTenantService(db, testEncryptionKey)), db
}

func seedRunningRun(t *testing.T, db *gorm.DB, tenantID uint) *models.PullRun {
	t.Helper()
	run := &models.PullRun{
		TenantID:      tenantID,
		StartTime:     time.Now().UTC(),
		PullStartDate: time.Now().UTC().AddDate(0, 0, -1),
		PullEndDate:   time.Now().UTC(),
		Status:        string(models.PullStatusRunning),
		TriggerType:   string(models.TriggerManual),
	}
	require.NoError(t, db.Create(run).Error)
	return run
}

func TestResolveWindowDefaults(t *testing.T) {
	service, _ := newTestPullService(t)

	start, end := service.resolveWindow(PullOptions{})

	assert.Equal(t, time.UTC, start.Location())
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 0, start.Minute())
	assert.Equal(t, 0, start.Second())
	assert.Equal(t, 24*time.Hour-time.Microsecond, end.Sub(start))

	// The window ends strictly before today's UTC midnight
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	assert.True(t, end.Before(today) || end.Equal(today.Add(-time.Microsecond)))
}

func TestResolveWindowLookback(t *testing.T) {
	service, _ := newTestPullService(t)
	service.SetLookbackDays(3)

	start, end := service.resolveWindow(PullOptions{})
	assert.Equal(t, 72*time.Hour-time.Microsecond, end.Sub(start))
}

func TestResolveWindowStartDateOnly(t *testing.T) {
	service, _ := newTestPullService(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	start, end := service.resolveWindow(PullOptions{StartDate: day})

	assert.Equal(t, day, start)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 59, 59, 999999000, time.UTC), end)
}

func TestResolveWindowExplicitRange(t *testing.T) {
	service, _ := newTestPullService(t)

	start := time.Date(2026, 3, 8, 6, 30, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	gotStart, gotEnd := service.resolveWindow(PullOptions{StartDate: start, EndDate: end})
	assert.Equal(t, start, gotStart)
	assert.Equal(t, end, gotEnd)
}

func TestBeginOpensRunningLedgerEntry(t *testing.T) {
	service, db := newTestPullService(t)
	tenant := seedTenant(t, db, "contoso")

	_, handle, run, err := service.begin(context.Background(), tenant, PullOptions{TriggeredBy: "tester"})
	require.NoError(t, err)
	require.NotZero(t, run.ID)

	var stored models.PullRun
	require.NoError(t, db.First(&stored, run.ID).Error)
	assert.Equal(t, string(models.PullStatusRunning), stored.Status)
	assert.Equal(t, string(models.TriggerManual), stored.TriggerType)
	assert.Equal(t, "tester", stored.TriggeredBy)
	assert.Equal(t, tenant.APIMethod, stored.APIMethod)
	assert.Nil(t, stored.EndTime)

	assert.True(t, service.IsPullActive(tenant.ID))

	// A second begin for the same tenant is rejected while the first
	// holds the lock
	_, _, _, err = service.begin(context.Background(), tenant, PullOptions{})
	assert.ErrorIs(t, err, ErrPullAlreadyInProgress)

	// The rejection is visible in the audit log
	var rejectCount int64
	db.Model(&models.Log{}).
		Where("module = ? AND action = ?", string(models.LogModulePull), "reject").
		Count(&rejectCount)
	assert.Equal(t, int64(1), rejectCount)

	service.release(tenant.ID, handle)
	assert.False(t, service.IsPullActive(tenant.ID))

	_, handle2, _, err := service.begin(context.Background(), tenant, PullOptions{})
	require.NoError(t, err)
	service.release(tenant.ID, handle2)
}

func TestFinalizeRunExactlyOnce(t *testing.T) {
	service, db := newTestPullService(t)
	tenant := seedTenant(t, db, "contoso")
	run := seedRunningRun(t, db, tenant.ID)

	result := IngestResult{Pulled: 10, New: 7, Updated: 2}
	require.NoError(t, service.finalizeRun(run, models.PullStatusSuccess, result, ""))

	var stored models.PullRun
	require.NoError(t, db.First(&stored, run.ID).Error)
	assert.Equal(t, string(models.PullStatusSuccess), stored.Status)
	assert.Equal(t, 10, stored.RecordsPulled)
	assert.Equal(t, 7, stored.RecordsNew)
	assert.Equal(t, 2, stored.RecordsUpdated)
	require.NotNil(t, stored.EndTime)

	// A second finalization attempt must not change the stored outcome
	err := service.finalizeRun(run, models.PullStatusFailed, IngestResult{}, "late failure")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	require.NoError(t, db.First(&stored, run.ID).Error)
	assert.Equal(t, string(models.PullStatusSuccess), stored.Status)
	assert.Equal(t, 7, stored.RecordsNew)
	assert.Empty(t, stored.ErrorMessage)
}

func TestCancelPullOnStaleRunningRow(t *testing.T) {
	service, db := newTestPullService(t)
	tenant := seedTenant(t, db, "contoso")

	// A Running row with no live pull behind it, as left by a crashed
	// process
	run := seedRunningRun(t, db, tenant.ID)

	cancelled, err := service.CancelPull(run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, string(models.PullStatusCancelled), cancelled.Status)
	require.NotNil(t, cancelled.EndTime)

	_, err = service.CancelPull(run.ID, 1)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestCancelPullSignalsLiveRun(t *testing.T) {
	service, db := newTestPullService(t)
	tenant := seedTenant(t, db, "contoso")

	ctx, handle, run, err := service.begin(context.Background(), tenant, PullOptions{})
	require.NoError(t, err)
	defer service.release(tenant.ID, handle)

	returned, err := service.CancelPull(run.ID, 1)
	require.NoError(t, err)

	// The live pull observes the cancellation through its context; the
	// ledger entry stays Running until the pull finalizes itself
	assert.Equal(t, string(models.PullStatusRunning), returned.Status)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected the run context to be cancelled")
	}
}

func TestCancelPullUnknownRun(t *testing.T) {
	service, _ := newTestPullService(t)

	_, err := service.CancelPull(9999, 1)
	assert.ErrorIs(t, err, ErrPullRunNotFound)
}

func TestPullTenantChecks(t *testing.T) {
	service, db := newTestPullService(t)

	_, err := service.PullTenant(context.Background(), 42, PullOptions{})
	assert.ErrorIs(t, err, ErrTenantNotFound)

	tenant := seedTenant(t, db, "contoso")
	require.NoError(t, db.Model(tenant).Update("is_active", false).Error)

	_, err = service.PullTenant(context.Background(), tenant.ID, PullOptions{})
	assert.ErrorIs(t, err, ErrTenantNotActive)

	// An inactive tenant never opens a ledger entry
	var runCount int64
	db.Model(&models.PullRun{}).Count(&runCount)
	assert.Equal(t, int64(0), runCount)
}

func TestQueryPullRunsFilters(t *testing.T) {
	service, db := newTestPullService(t)
	tenantA := seedTenant(t, db, "contoso")
	tenantB := seedTenant(t, db, "fabrikam")

	now := time.Now().UTC()
	statuses := []models.PullStatus{
		models.PullStatusSuccess,
		models.PullStatusFailed,
		models.PullStatusSuccess,
	}
	for i, status := range statuses {
		require.NoError(t, db.Create(&models.PullRun{
			TenantID:      tenantA.ID,
			StartTime:     now.Add(time.Duration(-i) * time.Hour),
			PullStartDate: now.AddDate(0, 0, -1),
			PullEndDate:   now,
			Status:        string(status),
			TriggerType:   string(models.TriggerScheduled),
		}).Error)
	}
	require.NoError(t, db.Create(&models.PullRun{
		TenantID:      tenantB.ID,
		StartTime:     now,
		PullStartDate: now.AddDate(0, 0, -1),
		PullEndDate:   now,
		Status:        string(models.PullStatusSuccess),
		TriggerType:   string(models.TriggerManual),
	}).Error)

	all, err := service.QueryPullRuns(PullRunQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Total)

	// Newest first
	require.Len(t, all.Runs, 4)
	assert.False(t, all.Runs[0].StartTime.Before(all.Runs[1].StartTime))

	byTenant, err := service.QueryPullRuns(PullRunQuery{TenantID: tenantA.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), byTenant.Total)

	byStatus, err := service.QueryPullRuns(PullRunQuery{Status: string(models.PullStatusFailed)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byStatus.Total)

	paged, err := service.QueryPullRuns(PullRunQuery{TenantID: tenantA.ID, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), paged.Total)
	assert.Len(t, paged.Runs, 1)
}

func TestGetPullRunByID(t *testing.T) {
	service, db := newTestPullService(t)
	tenant := seedTenant(t, db, "contoso")
	run := seedRunningRun(t, db, tenant.ID)

	found, err := service.GetPullRunByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, found.ID)

	_, err = service.GetPullRunByID(777)
	assert.ErrorIs(t, err, ErrPullRunNotFound)
}

func TestClassifyPullError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"authentication failure",
			fmt.Errorf("%w: invalid client secret", ms365.ErrAuthenticationFailed),
			"Authentication error: ",
		},
		{
			"bad certificate",
			fmt.Errorf("%w: cannot read pfx", ms365.ErrInvalidCertificate),
			"Authentication error: ",
		},
		{
			"permission denied",
			fmt.Errorf("%w: missing role", ms365.ErrPermissionDenied),
			"API error: ",
		},
		{
			"traces unavailable",
			fmt.Errorf("%w: reports endpoint disabled", ms365.ErrTracesUnavailable),
			"API error: ",
		},
		{
			"transient network",
			fmt.Errorf("%w: connection reset", ms365.ErrTransientNetwork),
			"API error: ",
		},
		{
			"unexpected response",
			fmt.Errorf("%w: HTML instead of JSON", ms365.ErrUnexpectedResponse),
			"API error: ",
		},
		{
			"anything else",
			errors.New("disk full"),
			"Unexpected error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyPullError(tt.err)
			assert.True(t, strings.HasPrefix(got, tt.want), "got %q", got)
		})
	}
}
