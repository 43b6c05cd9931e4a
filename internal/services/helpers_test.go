package services

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"gorm.io/gorm"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// setupServiceTestDB creates a fresh database with the full schema
func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "services_test.db")
	db, err := database.Initialize(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

// seedTenant inserts a secret-auth Graph tenant owning contoso.com
func seedTenant(t *testing.T, db *gorm.DB, name string) *models.Tenant {
	t.Helper()

	now := time.Now().UTC()
	tenant := &models.Tenant{
		Name:               name,
		TenantID:           "tid-" + name,
		ClientID:           "11111111-2222-3333-4444-555555555555",
		AuthMethod:         string(models.AuthMethodSecret),
		APIMethod:          string(models.APIMethodGraph),
		Organization:       "contoso.onmicrosoft.com",
		Domains:            "contoso.com",
		DomainsLastUpdated: &now,
		IsActive:           true,
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("Failed to seed tenant: %v", err)
	}
	return tenant
}

// graphTrace builds a raw Graph API trace record for ingestion tests
func graphTrace(messageID, sender, recipient, received, status string) map[string]interface{} {
	return map[string]interface{}{
		"internetMessageId": messageID,
		"receivedDateTime":  received,
		"senderAddress":     sender,
		"recipientAddress":  recipient,
		"subject":           "Subject for " + messageID,
		"status":            status,
		"size":              float64(2048),
	}
}

// seedTrace inserts a trace row directly, bypassing ingestion
func seedTrace(t *testing.T, db *gorm.DB, tenantID uint, n int, received time.Time, status, direction string) *models.MessageTrace {
	t.Helper()

	trace := &models.MessageTrace{
		TenantID:     tenantID,
		MessageID:    fmt.Sprintf("<msg-%d-%d@contoso.com>", tenantID, n),
		ReceivedDate: received,
		Sender:       fmt.Sprintf("sender%d@external.net", n),
		Recipient:    fmt.Sprintf("user%d@contoso.com", n),
		Subject:      fmt.Sprintf("Seeded message %d", n),
		Status:       status,
		Direction:    direction,
		Size:         1024,
		EventData:    "{}",
		RawJSON:      "{}",
		TraceDate:    time.Now().UTC(),
	}
	if err := db.Create(trace).Error; err != nil {
		t.Fatalf("Failed to seed trace: %v", err)
	}
	return trace
}
