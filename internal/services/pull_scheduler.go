package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"gorm.io/gorm"
)

// PullScheduler triggers the daily scheduled pulls and keeps tenant
// domain registries fresh
type PullScheduler struct {
	db               *gorm.DB
	pullService      *PullService
	tenantService    *TenantService
	settingsService  *SettingsService
	discoveryService *DiscoveryService
	logService       *LogService
	interval         time.Duration
	stopChan         chan struct{}
	cancel           context.CancelFunc
	running          bool
	mu               sync.Mutex
	sweeping         sync.Mutex // prevents overlapping pull sweeps
}

// NewPullScheduler creates a new pull scheduler
func NewPullScheduler(db *gorm.DB, pullService *PullService, tenantService *TenantService, logService *LogService) *PullScheduler {
	return &PullScheduler{
		db:               db,
		pullService:      pullService,
		tenantService:    tenantService,
		settingsService:  NewSettingsService(db),
		discoveryService: NewDiscoveryService(db, tenantService),
		logService:       logService,
		interval:         time.Minute,
		stopChan:         make(chan struct{}),
	}
}

// Start begins the scheduling loop. The loop wakes every minute and
// compares the UTC clock against the configured pull time, so settings
// changes take effect without a restart.
func (s *PullScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	log.Println("[Scheduler] Starting, checking schedule every minute")

	go func() {
		// Give the rest of the service a moment to come up before the
		// first check
		select {
		case <-time.After(10 * time.Second):
			s.tick(ctx, time.Now().UTC())
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx, time.Now().UTC())
			case <-s.stopChan:
				log.Println("[Scheduler] Stopping")
				return
			}
		}
	}()
}

// Stop halts the scheduling loop and cancels any pull it started. A pull
// in flight finalizes itself as Cancelled with the counts it reached.
func (s *PullScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// tick runs one scheduling check for the given wall clock time
func (s *PullScheduler) tick(ctx context.Context, now time.Time) {
	settings, err := s.settingsService.GetSettings()
	if err != nil {
		log.Printf("[Scheduler] Failed to load settings: %v", err)
		return
	}

	// Hourly domain sweep; each tenant decides for itself whether its
	// registry is stale
	if now.Minute() == 0 {
		s.refreshDomains(ctx)
	}

	if !settings.ScheduledPullEnabled {
		return
	}
	if now.Hour() != settings.ScheduledPullHour || now.Minute() != settings.ScheduledPullMinute {
		return
	}

	s.runScheduledPulls(ctx, now)
}

// runScheduledPulls pulls every active tenant that has not had a
// scheduled pull today
func (s *PullScheduler) runScheduledPulls(ctx context.Context, now time.Time) {
	// Skip the cycle entirely if the previous sweep is still going
	if !s.sweeping.TryLock() {
		log.Println("[Scheduler] Previous pull sweep still running, skipping this cycle")
		return
	}
	defer s.sweeping.Unlock()

	tenants, err := s.tenantService.GetActiveTenants()
	if err != nil {
		log.Printf("[Scheduler] Failed to get tenants: %v", err)
		return
	}

	if len(tenants) == 0 {
		log.Println("[Scheduler] No active tenants to pull")
		return
	}

	log.Printf("[Scheduler] Running scheduled pulls for %d tenant(s)", len(tenants))

	var wg sync.WaitGroup
	for _, tenant := range tenants {
		if s.pulledToday(tenant.ID, now) {
			log.Printf("[Scheduler] Tenant %s already pulled today, skipping", tenant.Name)
			continue
		}

		wg.Add(1)
		go func(t models.Tenant) {
			defer wg.Done()
			s.pullOne(ctx, t)
		}(tenant)
	}
	wg.Wait()

	log.Println("[Scheduler] Pull sweep completed")
}

// pullOne runs a scheduled pull for a single tenant
func (s *PullScheduler) pullOne(ctx context.Context, tenant models.Tenant) {
	run, err := s.pullService.pullTenant(ctx, &tenant, PullOptions{
		TriggerType: models.TriggerScheduled,
		TriggeredBy: "scheduler",
	})
	if err == ErrPullAlreadyInProgress {
		log.Printf("[Scheduler] Tenant %s already has a pull in progress, skipping", tenant.Name)
		return
	}
	if err != nil {
		status := "unknown"
		if run != nil {
			status = run.Status
		}
		log.Printf("[Scheduler] Scheduled pull for tenant %s ended with status %s: %v", tenant.Name, status, err)
		return
	}

	log.Printf("[Scheduler] Scheduled pull for tenant %s completed: %d new, %d updated",
		tenant.Name, run.RecordsNew, run.RecordsUpdated)
}

// pulledToday reports whether the tenant already had a scheduled pull
// since UTC midnight. The check survives restarts because it reads the
// pull ledger rather than in-memory state.
func (s *PullScheduler) pulledToday(tenantID uint, now time.Time) bool {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var count int64
	err := s.db.Model(&models.PullRun{}).
		Where("tenant_id = ? AND trigger_type = ? AND start_time >= ?",
			tenantID, string(models.TriggerScheduled), midnight).
		Count(&count).Error
	if err != nil {
		log.Printf("[Scheduler] Failed to check pull history for tenant %d: %v", tenantID, err)
		return false
	}
	return count > 0
}

// refreshDomains walks the active tenants and refreshes any stale domain
// registry. Failures are absorbed per tenant; a broken discovery never
// takes the sweep down.
func (s *PullScheduler) refreshDomains(ctx context.Context) {
	tenants, err := s.tenantService.GetActiveTenants()
	if err != nil {
		log.Printf("[Scheduler] Failed to get tenants for domain sweep: %v", err)
		return
	}

	refreshed := 0
	for i := range tenants {
		result := s.discoveryService.EnsureFresh(ctx, &tenants[i])
		if result.Refreshed {
			refreshed++
			log.Printf("[Scheduler] Refreshed %d domain(s) for tenant %s", result.DomainCount, tenants[i].Name)
		}
	}

	if refreshed > 0 {
		s.logService.LogInfo(0, models.LogModuleScheduler, "domain_sweep", "Domain refresh sweep completed", map[string]interface{}{
			"tenants_checked":   len(tenants),
			"tenants_refreshed": refreshed,
		})
	}
}
