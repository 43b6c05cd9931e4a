package services

import (
	"errors"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"gorm.io/gorm"
)

// SettingsService handles the application settings singleton
type SettingsService struct {
	db         *gorm.DB
	logService *LogService
}

// NewSettingsService creates a new SettingsService instance
func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{
		db:         db,
		logService: NewLogService(db),
	}
}

// GetSettings returns the settings singleton, creating it with defaults on
// first read
func (s *SettingsService) GetSettings() (*models.AppSettings, error) {
	var settings models.AppSettings
	err := s.db.First(&settings, 1).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	settings = models.DefaultAppSettings()
	if err := s.db.Create(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettingsInput represents the input for updating application
// settings. Nil fields are left unchanged.
type UpdateSettingsInput struct {
	AutoRefreshDomains   *bool
	RefreshHours         *int
	ScheduledPullEnabled *bool
	ScheduledPullHour    *int
	ScheduledPullMinute  *int
}

// UpdateSettings applies the given changes to the settings singleton,
// rejecting out-of-range values
func (s *SettingsService) UpdateSettings(userID uint, input UpdateSettingsInput) (*models.AppSettings, error) {
	settings, err := s.GetSettings()
	if err != nil {
		return nil, err
	}

	if input.AutoRefreshDomains != nil {
		settings.AutoRefreshDomains = *input.AutoRefreshDomains
	}
	if input.RefreshHours != nil {
		settings.RefreshHours = *input.RefreshHours
	}
	if input.ScheduledPullEnabled != nil {
		settings.ScheduledPullEnabled = *input.ScheduledPullEnabled
	}
	if input.ScheduledPullHour != nil {
		settings.ScheduledPullHour = *input.ScheduledPullHour
	}
	if input.ScheduledPullMinute != nil {
		settings.ScheduledPullMinute = *input.ScheduledPullMinute
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Save(settings).Error; err != nil {
		return nil, err
	}

	// Log the settings change
	s.logService.LogSettingsUpdated(userID, settings)

	return settings, nil
}
