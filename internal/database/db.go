// Package database opens the SQLite archive and keeps its schema current.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

// Initialize opens (creating if needed) the SQLite database at dbPath and
// brings the schema up to date.
func Initialize(dbPath string) (*gorm.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// legacyTenantColumns are tenant columns that predate AutoMigrate coverage.
// Explicit defaults keep rows written by earlier releases valid.
var legacyTenantColumns = []struct {
	name string
	ddl  string
}{
	{"api_method", "TEXT DEFAULT 'graph'"},
	{"organization", "TEXT DEFAULT ''"},
	{"domains", "TEXT DEFAULT ''"},
	{"domains_last_updated", "DATETIME"},
}

func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Tenant{},
		&models.MessageTrace{},
		&models.PullRun{},
		&models.AppSettings{},
		&models.Log{},
	); err != nil {
		return err
	}

	// Domain tracking columns were added after the first release; databases
	// from before then need them backfilled with defaults.
	migrator := db.Migrator()
	for _, col := range legacyTenantColumns {
		if migrator.HasColumn(&models.Tenant{}, col.name) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE tenants ADD COLUMN %s %s", col.name, col.ddl)
		if err := db.Exec(stmt).Error; err != nil {
			log.Printf("migration: adding tenants.%s: %v", col.name, err)
			continue
		}
		log.Printf("migration: added tenants.%s", col.name)
	}

	// Early versions indexed message_id as unique, which breaks
	// multi-recipient fan-out; uniqueness now lives on the dedup tuple.
	for _, idx := range []string{"message_id", "idx_message_traces_message_id_unique"} {
		if migrator.HasIndex(&models.MessageTrace{}, idx) {
			if err := migrator.DropIndex(&models.MessageTrace{}, idx); err != nil {
				log.Printf("migration: dropping index %s: %v", idx, err)
			}
		}
	}

	// Rows persisted by earlier releases may carry retired enum spellings.
	if err := db.Model(&models.MessageTrace{}).
		Where("status = ?", "GettingStatus").
		Update("status", string(models.TraceStatusPending)).Error; err != nil {
		return fmt.Errorf("failed to normalize trace statuses: %w", err)
	}
	if err := db.Model(&models.MessageTrace{}).
		Where("direction = '' OR direction IS NULL").
		Update("direction", string(models.DirectionUnknown)).Error; err != nil {
		return fmt.Errorf("failed to normalize trace directions: %w", err)
	}

	return nil
}
