package ms365

import (
	"context"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

const (
	defaultPageSize    = 1000
	defaultHTTPTimeout = 60 * time.Second
)

// Config carries the connection settings for a single tenant. Secrets are
// expected in plaintext; callers decrypt them before building the client.
type Config struct {
	TenantID              string
	ClientID              string
	AuthMethod            models.AuthMethod
	ClientSecret          string
	CertificatePath       string
	CertificateThumbprint string
	CertificatePassword   string
	APIMethod             models.APIMethod
	Organization          string
	PageSize              int
	HTTPTimeout           time.Duration
}

// TraceClient retrieves message traces from Exchange Online.
type TraceClient interface {
	// Authenticate verifies credentials and prepares the client for use.
	Authenticate(ctx context.Context) error
	// GetMessageTraces returns all raw trace records with a received time
	// between start and end, fetching every page.
	GetMessageTraces(ctx context.Context, start, end time.Time) ([]map[string]interface{}, error)
	// Source identifies which field mapping NormalizeTrace should use.
	Source() models.APIMethod
}

// DomainLister is implemented by clients that can enumerate the tenant's
// verified domains. The PowerShell client does not support this.
type DomainLister interface {
	GetVerifiedDomains(ctx context.Context) ([]string, error)
}

// NewClient returns the trace client matching the tenant's access method.
func NewClient(cfg Config) TraceClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.APIMethod == models.APIMethodPowerShell {
		return NewPowerShellClient(cfg)
	}
	return NewGraphClient(cfg)
}
