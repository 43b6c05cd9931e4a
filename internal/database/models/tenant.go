package models

import (
	"strings"
	"time"
)

// Tenant represents one Microsoft 365 tenant configured for trace collection
type Tenant struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:255;not null" json:"name"`
	TenantID string `gorm:"size:36;uniqueIndex;not null" json:"tenant_id"`
	ClientID string `gorm:"size:36;not null" json:"client_id"`

	AuthMethod            string `gorm:"size:20;default:'certificate'" json:"auth_method"` // certificate, secret
	ClientSecretEncrypted string `gorm:"size:500" json:"-"`
	CertificatePath       string `gorm:"size:500" json:"-"`
	CertificateThumbprint string `gorm:"size:64" json:"certificate_thumbprint"`
	CertPasswordEncrypted string `gorm:"size:500" json:"-"`

	APIMethod    string `gorm:"size:20;default:'graph'" json:"api_method"` // graph, powershell
	Organization string `gorm:"size:255" json:"organization"`

	// Comma-separated owned email domains used for direction detection
	Domains            string     `gorm:"type:text" json:"domains"`
	DomainsLastUpdated *time.Time `json:"domains_last_updated"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Traces   []MessageTrace `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"traces,omitempty"`
	PullRuns []PullRun      `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"pull_runs,omitempty"`
}

// AuthMethod identifies how a tenant authenticates against Microsoft 365
type AuthMethod string

const (
	AuthMethodCertificate AuthMethod = "certificate"
	AuthMethodSecret      AuthMethod = "secret"
)

// IsValid checks if the auth method is valid
func (a AuthMethod) IsValid() bool {
	switch a {
	case AuthMethodCertificate, AuthMethodSecret:
		return true
	}
	return false
}

// APIMethod identifies which API a tenant uses to retrieve message traces
type APIMethod string

const (
	APIMethodGraph      APIMethod = "graph"
	APIMethodPowerShell APIMethod = "powershell"
)

// IsValid checks if the API method is valid
func (a APIMethod) IsValid() bool {
	switch a {
	case APIMethodGraph, APIMethodPowerShell:
		return true
	}
	return false
}

// SupportsDomainDiscovery reports whether the API method can list verified
// domains. Only the Graph API exposes the organization domain list.
func (a APIMethod) SupportsDomainDiscovery() bool {
	return a == APIMethodGraph
}

// OwnedDomains returns the tenant's owned email domains, lowercased and
// deduplicated. When no domains are configured the organization field is
// used as a fallback; an onmicrosoft.com organization also yields its base
// .com domain so freshly created tenants classify sensibly before the
// first discovery run.
func (t *Tenant) OwnedDomains() []string {
	var result []string
	seen := make(map[string]bool)

	for _, domain := range strings.Split(t.Domains, ",") {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" && !seen[domain] {
			seen[domain] = true
			result = append(result, domain)
		}
	}

	if len(result) == 0 && t.Organization != "" {
		org := strings.ToLower(t.Organization)
		seen[org] = true
		result = append(result, org)
		if strings.Contains(org, ".onmicrosoft.com") {
			base := strings.Replace(org, ".onmicrosoft.com", ".com", 1)
			if !seen[base] {
				result = append(result, base)
			}
		}
	}

	return result
}

// HasDomains reports whether the tenant has an explicitly configured
// domain set (the organization fallback does not count).
func (t *Tenant) HasDomains() bool {
	for _, domain := range strings.Split(t.Domains, ",") {
		if strings.TrimSpace(domain) != "" {
			return true
		}
	}
	return false
}
