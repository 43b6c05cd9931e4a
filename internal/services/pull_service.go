package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"gorm.io/gorm"
)

var (
	// ErrPullRunNotFound indicates the pull run was not found
	ErrPullRunNotFound = errors.New("pull run not found")
	// ErrPullAlreadyInProgress indicates a pull is already running for this tenant
	ErrPullAlreadyInProgress = errors.New("pull already in progress for this tenant")
	// ErrAlreadyFinalized indicates the pull run already has a terminal status
	ErrAlreadyFinalized = errors.New("pull run already finalized")
	// ErrTenantNotActive indicates the tenant is deactivated
	ErrTenantNotActive = errors.New("tenant is not active")
)

// PullService runs message trace pulls and keeps the pull ledger
type PullService struct {
	db               *gorm.DB
	tenantService    *TenantService
	traceService     *TraceService
	discoveryService *DiscoveryService
	logService       *LogService
	lookbackDays     int

	// active holds one pullHandle per tenant with a pull in flight
	active sync.Map
}

// pullHandle tracks a running pull so it can be cancelled
type pullHandle struct {
	mu     sync.Mutex
	runID  uint
	cancel context.CancelFunc
}

// NewPullService creates a new PullService instance
func NewPullService(db *gorm.DB, tenantService *TenantService) *PullService {
	return &PullService{
		db:               db,
		tenantService:    tenantService,
		traceService:     NewTraceService(db),
		discoveryService: NewDiscoveryService(db, tenantService),
		logService:       NewLogService(db),
		lookbackDays:     1,
	}
}

// SetLookbackDays sets how many days before today the default pull window
// starts
func (s *PullService) SetLookbackDays(days int) {
	if days > 0 {
		s.lookbackDays = days
	}
}

// PullOptions represents the input for starting a pull
type PullOptions struct {
	StartDate   time.Time // zero means the default window
	EndDate     time.Time // zero means end of the start date's day
	TriggerType models.TriggerType
	TriggeredBy string
	ActorID     uint // acting user for the audit log, 0 for system
}

// PullTenant runs a message trace pull for one tenant and blocks until it
// finishes. The returned run carries the final status and counts; it is
// non-nil whenever a ledger entry was opened, including on failure.
func (s *PullService) PullTenant(ctx context.Context, tenantID uint, opts PullOptions) (*models.PullRun, error) {
	tenant, err := s.tenantService.GetTenantByID(tenantID)
	if err != nil {
		return nil, err
	}
	return s.pullTenant(ctx, tenant, opts)
}

// StartPull begins an asynchronous pull and returns the ledger entry while
// it is still running
func (s *PullService) StartPull(tenantID uint, opts PullOptions) (*models.PullRun, error) {
	tenant, err := s.tenantService.GetTenantByID(tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, ErrTenantNotActive
	}

	ctx, handle, run, err := s.begin(context.Background(), tenant, opts)
	if err != nil {
		return nil, err
	}

	go s.execute(ctx, handle, tenant, run, opts.ActorID)

	return run, nil
}

func (s *PullService) pullTenant(ctx context.Context, tenant *models.Tenant, opts PullOptions) (*models.PullRun, error) {
	if !tenant.IsActive {
		return nil, ErrTenantNotActive
	}

	runCtx, handle, run, err := s.begin(ctx, tenant, opts)
	if err != nil {
		return nil, err
	}

	return s.execute(runCtx, handle, tenant, run, opts.ActorID)
}

// begin acquires the tenant's pull lock and opens the ledger entry. The
// entry is created with status Running before any provider call so every
// attempt is accounted for.
func (s *PullService) begin(parent context.Context, tenant *models.Tenant, opts PullOptions) (context.Context, *pullHandle, *models.PullRun, error) {
	handle := &pullHandle{}
	if _, loaded := s.active.LoadOrStore(tenant.ID, handle); loaded {
		s.logService.LogPullRejected(opts.ActorID, tenant.ID)
		return nil, nil, nil, ErrPullAlreadyInProgress
	}

	start, end := s.resolveWindow(opts)

	trigger := opts.TriggerType
	if trigger == "" {
		trigger = models.TriggerManual
	}

	run := &models.PullRun{
		TenantID:      tenant.ID,
		StartTime:     time.Now().UTC(),
		PullStartDate: start,
		PullEndDate:   end,
		Status:        string(models.PullStatusRunning),
		TriggerType:   string(trigger),
		TriggeredBy:   opts.TriggeredBy,
		APIMethod:     tenant.APIMethod,
	}
	if err := s.db.Create(run).Error; err != nil {
		s.active.Delete(tenant.ID)
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	handle.mu.Lock()
	handle.runID = run.ID
	handle.cancel = cancel
	handle.mu.Unlock()

	s.logService.LogPullStarted(opts.ActorID, run)
	log.Printf("[Pull] Run %d started for tenant %s (%s to %s)",
		run.ID, tenant.Name, start.Format(time.RFC3339), end.Format(time.RFC3339))

	return ctx, handle, run, nil
}

// resolveWindow fills in the pull date range. With no dates given the
// window covers the full previous day (or lookbackDays back) in UTC.
func (s *PullService) resolveWindow(opts PullOptions) (time.Time, time.Time) {
	if opts.StartDate.IsZero() && opts.EndDate.IsZero() {
		now := time.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		lookback := s.lookbackDays
		if lookback <= 0 {
			lookback = 1
		}
		return today.AddDate(0, 0, -lookback), today.Add(-time.Microsecond)
	}

	start := opts.StartDate.UTC()
	end := opts.EndDate.UTC()
	if opts.EndDate.IsZero() {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		end = day.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	if opts.StartDate.IsZero() {
		start = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	}
	return start, end
}

// execute runs the pull against Microsoft 365 and finalizes the ledger
// entry exactly once
func (s *PullService) execute(ctx context.Context, handle *pullHandle, tenant *models.Tenant, run *models.PullRun, actorID uint) (*models.PullRun, error) {
	defer s.release(tenant.ID, handle)

	// Domain freshness is best effort; the pull proceeds with whatever
	// set is stored
	s.discoveryService.EnsureFresh(ctx, tenant)

	cfg, err := s.tenantService.BuildClientConfig(tenant)
	if err != nil {
		s.finish(run, models.PullStatusFailed, IngestResult{}, classifyPullError(err), actorID)
		return run, err
	}

	client := ms365.NewClient(cfg)
	if err := client.Authenticate(ctx); err != nil {
		if isCancellation(err) {
			s.finish(run, models.PullStatusCancelled, IngestResult{}, "", actorID)
			return run, err
		}
		s.finish(run, models.PullStatusFailed, IngestResult{}, classifyPullError(err), actorID)
		return run, err
	}

	traces, err := client.GetMessageTraces(ctx, run.PullStartDate, run.PullEndDate)
	if errors.Is(err, ms365.ErrTracesUnavailable) && client.Source() == models.APIMethodGraph {
		client, traces, err = s.fallbackToPowerShell(ctx, cfg, tenant, run)
	}
	if err != nil && !isCancellation(err) {
		s.finish(run, models.PullStatusFailed, IngestResult{}, classifyPullError(err), actorID)
		return run, err
	}

	result, ingestErr := s.traceService.IngestTraces(tenant, client.Source(), traces)
	if ingestErr != nil {
		s.finish(run, models.PullStatusPartial, result, classifyPullError(ingestErr), actorID)
		return run, ingestErr
	}

	if err != nil {
		// Cancelled mid-fetch; whatever pages arrived are already stored
		s.finish(run, models.PullStatusCancelled, result, "", actorID)
		return run, err
	}

	s.finish(run, models.PullStatusSuccess, result, "", actorID)
	log.Printf("[Pull] Run %d completed for tenant %s: %d pulled, %d new, %d updated",
		run.ID, tenant.Name, result.Pulled, result.New, result.Updated)

	return run, nil
}

// fallbackToPowerShell retries the fetch over Exchange Online PowerShell
// when the Graph trace endpoint is not enabled for the tenant. The switch
// is remembered on the tenant so later pulls go straight to PowerShell.
func (s *PullService) fallbackToPowerShell(ctx context.Context, cfg ms365.Config, tenant *models.Tenant, run *models.PullRun) (ms365.TraceClient, []map[string]interface{}, error) {
	if tenant.Organization == "" {
		return nil, nil, fmt.Errorf("%w: no organization configured for PowerShell fallback", ms365.ErrTracesUnavailable)
	}

	log.Printf("[Pull] Graph trace API unavailable for tenant %s, falling back to PowerShell", tenant.Name)

	cfg.APIMethod = models.APIMethodPowerShell
	client := ms365.NewClient(cfg)
	if err := client.Authenticate(ctx); err != nil {
		return nil, nil, err
	}

	traces, err := client.GetMessageTraces(ctx, run.PullStartDate, run.PullEndDate)
	if err != nil && !isCancellation(err) {
		return nil, nil, err
	}

	run.APIMethod = string(models.APIMethodPowerShell)
	if dbErr := s.db.Model(&models.Tenant{}).Where("id = ?", tenant.ID).
		Update("api_method", string(models.APIMethodPowerShell)).Error; dbErr != nil {
		log.Printf("[Pull] Failed to persist API method switch for tenant %s: %v", tenant.Name, dbErr)
	} else {
		tenant.APIMethod = string(models.APIMethodPowerShell)
	}

	return client, traces, err
}

// finish finalizes the run and writes the audit log entry. A run that was
// already finalized elsewhere is left as it is.
func (s *PullService) finish(run *models.PullRun, status models.PullStatus, result IngestResult, errMsg string, actorID uint) {
	err := s.finalizeRun(run, status, result, errMsg)
	if errors.Is(err, ErrAlreadyFinalized) {
		return
	}
	if err != nil {
		log.Printf("[Pull] Failed to finalize run %d: %v", run.ID, err)
		return
	}
	s.logService.LogPullFinished(actorID, run)
}

// finalizeRun writes the terminal status for a run. The conditional update
// only matches rows still in Running, so exactly one finalization wins and
// a finalized row is never mutated again.
func (s *PullService) finalizeRun(run *models.PullRun, status models.PullStatus, result IngestResult, errMsg string) error {
	now := time.Now().UTC()
	tx := s.db.Model(&models.PullRun{}).
		Where("id = ? AND status = ?", run.ID, string(models.PullStatusRunning)).
		Updates(map[string]interface{}{
			"status":          string(status),
			"end_time":        now,
			"records_pulled":  result.Pulled,
			"records_new":     result.New,
			"records_updated": result.Updated,
			"error_message":   errMsg,
			"api_method":      run.APIMethod,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}

	run.Status = string(status)
	run.EndTime = &now
	run.RecordsPulled = result.Pulled
	run.RecordsNew = result.New
	run.RecordsUpdated = result.Updated
	run.ErrorMessage = errMsg

	return nil
}

// release gives up the tenant's pull lock
func (s *PullService) release(tenantID uint, handle *pullHandle) {
	handle.mu.Lock()
	if handle.cancel != nil {
		handle.cancel()
	}
	handle.mu.Unlock()
	s.active.Delete(tenantID)
}

// isCancellation reports whether an error stems from context cancellation
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// classifyPullError turns a pull failure into the stored error message
func classifyPullError(err error) string {
	switch {
	case errors.Is(err, ms365.ErrAuthenticationFailed), errors.Is(err, ms365.ErrInvalidCertificate):
		return "Authentication error: " + err.Error()
	case errors.Is(err, ms365.ErrPermissionDenied),
		errors.Is(err, ms365.ErrTracesUnavailable),
		errors.Is(err, ms365.ErrUnsupportedOperation),
		errors.Is(err, ms365.ErrTransientNetwork),
		errors.Is(err, ms365.ErrUnexpectedResponse):
		return "API error: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}

// TenantPullOutcome pairs a tenant with the result of its pull
type TenantPullOutcome struct {
	Tenant models.Tenant
	Run    *models.PullRun
	Err    error
}

// PullAllTenants pulls every active tenant in sequence. A failure for one
// tenant does not stop the sweep; each outcome is reported separately.
func (s *PullService) PullAllTenants(ctx context.Context, opts PullOptions) ([]TenantPullOutcome, error) {
	tenants, err := s.tenantService.GetActiveTenants()
	if err != nil {
		return nil, err
	}

	outcomes := make([]TenantPullOutcome, 0, len(tenants))
	for i := range tenants {
		tenant := tenants[i]
		run, err := s.pullTenant(ctx, &tenant, opts)
		outcomes = append(outcomes, TenantPullOutcome{Tenant: tenant, Run: run, Err: err})

		if ctx.Err() != nil {
			break
		}
	}
	return outcomes, nil
}

// CancelPull requests cancellation of a running pull. A live pull is
// signalled and finalizes itself with partial counts; a Running row with
// no live pull behind it (stale after a restart) is closed out directly.
func (s *PullService) CancelPull(runID, userID uint) (*models.PullRun, error) {
	run, err := s.GetPullRunByID(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != string(models.PullStatusRunning) {
		return nil, ErrAlreadyFinalized
	}

	if value, ok := s.active.Load(run.TenantID); ok {
		handle := value.(*pullHandle)
		handle.mu.Lock()
		owns := handle.runID == run.ID && handle.cancel != nil
		if owns {
			handle.cancel()
		}
		handle.mu.Unlock()

		if owns {
			s.logService.LogInfo(userID, models.LogModulePull, "cancel", "Pull cancellation requested", PullOperationDetails{
				TenantID:  run.TenantID,
				PullRunID: run.ID,
				Status:    "cancelling",
			})
			return run, nil
		}
	}

	if err := s.finalizeRun(run, models.PullStatusCancelled, IngestResult{}, ""); err != nil {
		return nil, err
	}
	s.logService.LogPullFinished(userID, run)

	return run, nil
}

// IsPullActive reports whether a pull is currently running for the tenant
func (s *PullService) IsPullActive(tenantID uint) bool {
	_, ok := s.active.Load(tenantID)
	return ok
}

// PullRunQuery represents query parameters for pull run retrieval
type PullRunQuery struct {
	TenantID uint
	Status   string
	Page     int
	Limit    int
}

// PullRunQueryResult represents the result of a pull run query
type PullRunQueryResult struct {
	Total int64
	Runs  []models.PullRun
}

// QueryPullRuns retrieves pull runs based on query parameters, newest first
func (s *PullService) QueryPullRuns(query PullRunQuery) (*PullRunQueryResult, error) {
	db := s.db.Model(&models.PullRun{})

	if query.TenantID > 0 {
		db = db.Where("tenant_id = ?", query.TenantID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var runs []models.PullRun
	if err := db.Order("start_time DESC").Offset(offset).Limit(query.Limit).Find(&runs).Error; err != nil {
		return nil, err
	}

	return &PullRunQueryResult{
		Total: total,
		Runs:  runs,
	}, nil
}

// GetPullRunByID retrieves a single pull run by ID
func (s *PullService) GetPullRunByID(id uint) (*models.PullRun, error) {
	var run models.PullRun
	if err := s.db.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPullRunNotFound
		}
		return nil, err
	}
	return &run, nil
}
