package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/direction"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"gorm.io/gorm"
)

var (
	// ErrTenantNotFound indicates the tenant was not found
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantAlreadyExists indicates a tenant with this tenant ID already exists
	ErrTenantAlreadyExists = errors.New("tenant already exists")
	// ErrInvalidTenantData indicates invalid tenant data
	ErrInvalidTenantData = errors.New("invalid tenant data")
	// ErrEncryptionFailed indicates credential encryption failed
	ErrEncryptionFailed = errors.New("credential encryption failed")
	// ErrDecryptionFailed indicates credential decryption failed
	ErrDecryptionFailed = errors.New("credential decryption failed")
	// ErrDomainsAlreadyConfigured indicates the tenant already has a domain set
	// and the caller did not request an overwrite
	ErrDomainsAlreadyConfigured = errors.New("tenant domains already configured")
)

// TenantService handles tenant-related business logic
type TenantService struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
	pageSize      int
	httpTimeout   time.Duration
}

// NewTenantService creates a new TenantService instance
func NewTenantService(db *gorm.DB, encryptionKey []byte) *TenantService {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &TenantService{
		db:            db,
		encryptionKey: key,
		logService:    NewLogService(db),
	}
}

// NewTenantServiceWithOptions creates a TenantService with explicit trace
// client options; zero values fall back to the client defaults
func NewTenantServiceWithOptions(db *gorm.DB, encryptionKey []byte, pageSize int, httpTimeout time.Duration) *TenantService {
	s := NewTenantService(db, encryptionKey)
	s.pageSize = pageSize
	s.httpTimeout = httpTimeout
	return s
}

// encryptSecret encrypts a credential using AES-256-GCM
func (s *TenantService) encryptSecret(secret string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecret decrypts a credential using AES-256-GCM
func (s *TenantService) decryptSecret(encryptedSecret string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedSecret)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// CreateTenantInput represents the input for creating a tenant
type CreateTenantInput struct {
	Name                  string
	TenantID              string
	ClientID              string
	AuthMethod            string
	ClientSecret          string
	CertificatePath       string
	CertificateThumbprint string
	CertificatePassword   string
	APIMethod             string
	Organization          string
	Domains               []string
}

// CreateTenant creates a new tenant configuration
func (s *TenantService) CreateTenant(userID uint, input CreateTenantInput) (*models.Tenant, error) {
	// Validate required fields
	if input.Name == "" || input.TenantID == "" || input.ClientID == "" {
		return nil, ErrInvalidTenantData
	}

	authMethod := models.AuthMethod(input.AuthMethod)
	if input.AuthMethod == "" {
		authMethod = models.AuthMethodCertificate
	}
	if !authMethod.IsValid() {
		return nil, ErrInvalidTenantData
	}

	apiMethod := models.APIMethod(input.APIMethod)
	if input.APIMethod == "" {
		apiMethod = models.APIMethodGraph
	}
	if !apiMethod.IsValid() {
		return nil, ErrInvalidTenantData
	}

	// Each auth method needs its credential; PowerShell additionally needs
	// the organization for Connect-ExchangeOnline
	if authMethod == models.AuthMethodSecret && input.ClientSecret == "" {
		return nil, ErrInvalidTenantData
	}
	if authMethod == models.AuthMethodCertificate && input.CertificatePath == "" {
		return nil, ErrInvalidTenantData
	}
	if apiMethod == models.APIMethodPowerShell && input.Organization == "" {
		return nil, ErrInvalidTenantData
	}

	// Check if a tenant with this tenant ID already exists
	var existingTenant models.Tenant
	if err := s.db.Where("tenant_id = ?", input.TenantID).First(&existingTenant).Error; err == nil {
		return nil, ErrTenantAlreadyExists
	}

	tenant := &models.Tenant{
		Name:                  input.Name,
		TenantID:              input.TenantID,
		ClientID:              input.ClientID,
		AuthMethod:            string(authMethod),
		CertificatePath:       input.CertificatePath,
		CertificateThumbprint: input.CertificateThumbprint,
		APIMethod:             string(apiMethod),
		Organization:          input.Organization,
		IsActive:              true, // Default to active
	}

	// Encrypt credentials
	if input.ClientSecret != "" {
		encrypted, err := s.encryptSecret(input.ClientSecret)
		if err != nil {
			return nil, err
		}
		tenant.ClientSecretEncrypted = encrypted
	}
	if input.CertificatePassword != "" {
		encrypted, err := s.encryptSecret(input.CertificatePassword)
		if err != nil {
			return nil, err
		}
		tenant.CertPasswordEncrypted = encrypted
	}

	if len(input.Domains) > 0 {
		tenant.Domains = strings.Join(direction.NormalizeDomains(input.Domains), ",")
		now := time.Now().UTC()
		tenant.DomainsLastUpdated = &now
	}

	if err := s.db.Create(tenant).Error; err != nil {
		return nil, err
	}

	// Log the tenant creation
	s.logService.LogTenantCreated(userID, tenant.ID, tenant.Name)

	return tenant, nil
}

// GetTenantByID retrieves a tenant by ID
func (s *TenantService) GetTenantByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// GetTenantByTenantID retrieves a tenant by its Microsoft 365 tenant ID
func (s *TenantService) GetTenantByTenantID(tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.Where("tenant_id = ?", tenantID).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// GetAllTenants retrieves all tenants ordered by name
func (s *TenantService) GetAllTenants() ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.Order("name ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// GetActiveTenants retrieves all active tenants ordered by name
func (s *TenantService) GetActiveTenants() ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.Where("is_active = ?", true).Order("name ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// UpdateTenantInput represents the input for updating a tenant
type UpdateTenantInput struct {
	Name                  string
	ClientID              string
	AuthMethod            string
	ClientSecret          string // Optional: only update if not empty
	CertificatePath       string
	CertificateThumbprint string
	CertificatePassword   string // Optional: only update if not empty
	APIMethod             string
	Organization          string
	IsActive              *bool
	Domains               []string // nil leaves the stored set unchanged
}

// UpdateTenant updates a tenant configuration
func (s *TenantService) UpdateTenant(id, userID uint, input UpdateTenantInput) (*models.Tenant, error) {
	tenant, err := s.GetTenantByID(id)
	if err != nil {
		return nil, err
	}

	// Update fields
	if input.Name != "" {
		tenant.Name = input.Name
	}
	if input.ClientID != "" {
		tenant.ClientID = input.ClientID
	}
	if input.AuthMethod != "" {
		if !models.AuthMethod(input.AuthMethod).IsValid() {
			return nil, ErrInvalidTenantData
		}
		tenant.AuthMethod = input.AuthMethod
	}
	if input.APIMethod != "" {
		if !models.APIMethod(input.APIMethod).IsValid() {
			return nil, ErrInvalidTenantData
		}
		tenant.APIMethod = input.APIMethod
	}
	if input.CertificatePath != "" {
		tenant.CertificatePath = input.CertificatePath
	}
	if input.CertificateThumbprint != "" {
		tenant.CertificateThumbprint = input.CertificateThumbprint
	}
	if input.Organization != "" {
		tenant.Organization = input.Organization
	}
	if input.IsActive != nil {
		tenant.IsActive = *input.IsActive
	}

	// PowerShell access cannot work without the organization
	if tenant.APIMethod == string(models.APIMethodPowerShell) && tenant.Organization == "" {
		return nil, ErrInvalidTenantData
	}

	// Update credentials if provided
	if input.ClientSecret != "" {
		encrypted, err := s.encryptSecret(input.ClientSecret)
		if err != nil {
			return nil, err
		}
		tenant.ClientSecretEncrypted = encrypted
	}
	if input.CertificatePassword != "" {
		encrypted, err := s.encryptSecret(input.CertificatePassword)
		if err != nil {
			return nil, err
		}
		tenant.CertPasswordEncrypted = encrypted
	}

	if input.Domains != nil {
		tenant.Domains = strings.Join(direction.NormalizeDomains(input.Domains), ",")
		now := time.Now().UTC()
		tenant.DomainsLastUpdated = &now
	}

	if err := s.db.Save(tenant).Error; err != nil {
		return nil, err
	}

	// Log the tenant update
	s.logService.LogTenantUpdated(userID, tenant.ID, tenant.Name)

	return tenant, nil
}

// DeleteTenant deletes a tenant and its traces and pull runs
func (s *TenantService) DeleteTenant(id, userID uint) error {
	tenant, err := s.GetTenantByID(id)
	if err != nil {
		return err
	}

	name := tenant.Name

	// SQLite does not enforce the cascade constraints on its own, so the
	// dependent rows go explicitly inside one transaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&models.MessageTrace{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", id).Delete(&models.PullRun{}).Error; err != nil {
			return err
		}
		return tx.Delete(tenant).Error
	})
	if err != nil {
		return err
	}

	// Log the tenant deletion
	s.logService.LogTenantDeleted(userID, id, name)

	return nil
}

// SetTenantActive sets the active status of a tenant
func (s *TenantService) SetTenantActive(id, userID uint, active bool) (*models.Tenant, error) {
	tenant, err := s.GetTenantByID(id)
	if err != nil {
		return nil, err
	}

	tenant.IsActive = active

	if err := s.db.Save(tenant).Error; err != nil {
		return nil, err
	}

	// Log the status change
	s.logService.LogTenantStatusChanged(userID, tenant.ID, tenant.Name, active)

	return tenant, nil
}

// SetTenantDomains replaces the tenant's owned domain set. An existing
// non-empty set is only replaced when overwrite is true.
func (s *TenantService) SetTenantDomains(id, userID uint, domains []string, overwrite bool) (*models.Tenant, error) {
	tenant, err := s.GetTenantByID(id)
	if err != nil {
		return nil, err
	}

	if tenant.HasDomains() && !overwrite {
		return nil, ErrDomainsAlreadyConfigured
	}

	normalized := direction.NormalizeDomains(domains)
	tenant.Domains = strings.Join(normalized, ",")
	now := time.Now().UTC()
	tenant.DomainsLastUpdated = &now

	if err := s.db.Save(tenant).Error; err != nil {
		return nil, err
	}

	s.logService.LogInfo(userID, models.LogModuleTenant, "domains_update", "Tenant domains updated", TenantChangeDetails{
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
		Field:      "domains",
		NewValue:   tenant.Domains,
	})

	return tenant, nil
}

// GetDecryptedSecret retrieves the decrypted client secret for a tenant.
// Returns an empty string when no secret is stored.
func (s *TenantService) GetDecryptedSecret(tenant *models.Tenant) (string, error) {
	if tenant.ClientSecretEncrypted == "" {
		return "", nil
	}
	return s.decryptSecret(tenant.ClientSecretEncrypted)
}

// GetDecryptedCertPassword retrieves the decrypted certificate password for
// a tenant. Returns an empty string when no password is stored.
func (s *TenantService) GetDecryptedCertPassword(tenant *models.Tenant) (string, error) {
	if tenant.CertPasswordEncrypted == "" {
		return "", nil
	}
	return s.decryptSecret(tenant.CertPasswordEncrypted)
}

// BuildClientConfig assembles the trace client configuration for a tenant,
// decrypting the stored credentials
func (s *TenantService) BuildClientConfig(tenant *models.Tenant) (ms365.Config, error) {
	secret, err := s.GetDecryptedSecret(tenant)
	if err != nil {
		return ms365.Config{}, err
	}

	certPassword, err := s.GetDecryptedCertPassword(tenant)
	if err != nil {
		return ms365.Config{}, err
	}

	return ms365.Config{
		TenantID:              tenant.TenantID,
		ClientID:              tenant.ClientID,
		AuthMethod:            models.AuthMethod(tenant.AuthMethod),
		ClientSecret:          secret,
		CertificatePath:       tenant.CertificatePath,
		CertificateThumbprint: tenant.CertificateThumbprint,
		CertificatePassword:   certPassword,
		APIMethod:             models.APIMethod(tenant.APIMethod),
		Organization:          tenant.Organization,
		PageSize:              s.pageSize,
		HTTPTimeout:           s.httpTimeout,
	}, nil
}

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnection verifies the tenant's credentials against Microsoft 365
func (s *TenantService) TestConnection(ctx context.Context, tenant *models.Tenant) ConnectionTestResult {
	cfg, err := s.BuildClientConfig(tenant)
	if err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: "Failed to decrypt credentials: " + err.Error(),
		}
	}

	client := ms365.NewClient(cfg)
	if err := client.Authenticate(ctx); err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: "Authentication failed: " + err.Error(),
		}
	}

	return ConnectionTestResult{
		Success: true,
		Message: "Connection successful using " + apiMethodLabel(cfg.APIMethod),
	}
}

// TestConnectionByID tests the connection for a tenant by ID
func (s *TenantService) TestConnectionByID(ctx context.Context, id uint) (ConnectionTestResult, error) {
	tenant, err := s.GetTenantByID(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}

	return s.TestConnection(ctx, tenant), nil
}

// apiMethodLabel returns the human-readable name of an API method
func apiMethodLabel(method models.APIMethod) string {
	if method == models.APIMethodPowerShell {
		return "Exchange Online PowerShell"
	}
	return "Graph API"
}
