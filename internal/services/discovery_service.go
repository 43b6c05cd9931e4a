package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/direction"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"gorm.io/gorm"
)

// DiscoveryService resolves a tenant's verified domains from Microsoft 365
// and keeps the stored set fresh
type DiscoveryService struct {
	db              *gorm.DB
	tenantService   *TenantService
	settingsService *SettingsService
	logService      *LogService
}

// NewDiscoveryService creates a new DiscoveryService instance
func NewDiscoveryService(db *gorm.DB, tenantService *TenantService) *DiscoveryService {
	return &DiscoveryService{
		db:              db,
		tenantService:   tenantService,
		settingsService: NewSettingsService(db),
		logService:      NewLogService(db),
	}
}

// DiscoverDomains fetches the tenant's verified domains and stores them as
// the owned domain set. An existing non-empty set is only replaced when
// overwrite is true; the check happens before any network call.
func (s *DiscoveryService) DiscoverDomains(ctx context.Context, tenantID, userID uint, overwrite bool) ([]string, error) {
	tenant, err := s.tenantService.GetTenantByID(tenantID)
	if err != nil {
		return nil, err
	}
	return s.discoverForTenant(ctx, tenant, userID, overwrite)
}

// discoverForTenant runs discovery against Microsoft 365 and writes the
// result. The stored set is never touched when discovery fails.
func (s *DiscoveryService) discoverForTenant(ctx context.Context, tenant *models.Tenant, userID uint, overwrite bool) ([]string, error) {
	if tenant.HasDomains() && !overwrite {
		return nil, ErrDomainsAlreadyConfigured
	}

	cfg, err := s.tenantService.BuildClientConfig(tenant)
	if err != nil {
		return nil, err
	}

	client := ms365.NewClient(cfg)
	lister, ok := client.(ms365.DomainLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s access cannot list verified domains", ms365.ErrUnsupportedOperation, tenant.APIMethod)
	}

	if err := client.Authenticate(ctx); err != nil {
		s.logService.LogDomainDiscovery(userID, tenant.ID, 0, overwrite, err)
		return nil, err
	}

	domains, err := lister.GetVerifiedDomains(ctx)
	if err != nil {
		s.logService.LogDomainDiscovery(userID, tenant.ID, 0, overwrite, err)
		return nil, err
	}

	normalized := direction.NormalizeDomains(domains)
	if _, err := s.tenantService.SetTenantDomains(tenant.ID, userID, normalized, true); err != nil {
		return nil, err
	}

	s.logService.LogDomainDiscovery(userID, tenant.ID, len(normalized), overwrite, nil)

	return normalized, nil
}

// RefreshResult describes the outcome of a domain freshness check
type RefreshResult struct {
	Refreshed   bool   `json:"refreshed"`
	Reason      string `json:"reason"`
	DomainCount int    `json:"domain_count,omitempty"`
}

// needsRefresh decides whether the tenant's domain set should be
// refreshed: never while auto-refresh is disabled, always when the set is
// empty or its age is unknown, otherwise only once it is older than the
// configured refresh window.
func needsRefresh(tenant *models.Tenant, settings *models.AppSettings, now time.Time) (bool, string) {
	if !settings.AutoRefreshDomains {
		return false, "auto refresh disabled"
	}
	if !tenant.HasDomains() {
		return true, "no domains configured"
	}
	if tenant.DomainsLastUpdated == nil {
		return true, "domain age unknown"
	}
	if now.Sub(*tenant.DomainsLastUpdated) > time.Duration(settings.RefreshHours)*time.Hour {
		return true, "domains stale"
	}
	return false, "domains fresh"
}

// EnsureFresh refreshes the tenant's owned domains when needed and updates
// the in-memory tenant to match. Discovery failures are absorbed: the
// stored set stays as it is and the caller proceeds with it, so a pull is
// never blocked by a failed refresh.
func (s *DiscoveryService) EnsureFresh(ctx context.Context, tenant *models.Tenant) RefreshResult {
	settings, err := s.settingsService.GetSettings()
	if err != nil {
		s.logService.LogWarn(0, models.LogModuleDiscovery, "refresh", "Failed to load settings, skipping refresh", map[string]interface{}{
			"tenant_id": tenant.ID,
			"error":     err.Error(),
		})
		return RefreshResult{Reason: "settings unavailable"}
	}

	refresh, reason := needsRefresh(tenant, settings, time.Now().UTC())
	if !refresh {
		s.logService.LogDomainRefreshSkipped(tenant.ID, reason)
		return RefreshResult{Reason: reason}
	}

	if !models.APIMethod(tenant.APIMethod).SupportsDomainDiscovery() {
		s.logService.LogDomainRefreshSkipped(tenant.ID, "access method cannot list domains")
		return RefreshResult{Reason: "access method cannot list domains"}
	}

	domains, err := s.discoverForTenant(ctx, tenant, 0, true)
	if err != nil {
		s.logService.LogWarn(0, models.LogModuleDiscovery, "refresh", "Domain refresh failed, keeping existing set", map[string]interface{}{
			"tenant_id": tenant.ID,
			"trigger":   reason,
			"error":     err.Error(),
		})
		return RefreshResult{Reason: "discovery failed: " + err.Error()}
	}

	// Reflect the refreshed set in the caller's copy
	tenant.Domains = strings.Join(domains, ",")
	now := time.Now().UTC()
	tenant.DomainsLastUpdated = &now

	return RefreshResult{Refreshed: true, Reason: reason, DomainCount: len(domains)}
}
