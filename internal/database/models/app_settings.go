package models

import (
	"errors"
	"time"
)

// AppSettings bounds, enforced on every write
const (
	MinRefreshHours = 1
	MaxRefreshHours = 168
)

// ErrSettingsOutOfRange indicates a settings value outside its allowed range
var ErrSettingsOutOfRange = errors.New("settings value out of range")

// AppSettings is the application-wide configuration singleton. Exactly one
// row exists (ID is forced to 1); it is created lazily with defaults on
// first read.
type AppSettings struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Domain discovery
	AutoRefreshDomains bool `gorm:"default:true" json:"auto_refresh_domains"`
	RefreshHours       int  `gorm:"default:24" json:"refresh_hours"` // 1-168

	// Scheduled pulls (UTC)
	ScheduledPullEnabled bool `gorm:"default:true" json:"scheduled_pull_enabled"`
	ScheduledPullHour    int  `gorm:"default:1" json:"scheduled_pull_hour"`   // 0-23
	ScheduledPullMinute  int  `gorm:"default:0" json:"scheduled_pull_minute"` // 0-59

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultAppSettings returns the settings applied when the singleton row
// does not exist yet.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		ID:                   1,
		AutoRefreshDomains:   true,
		RefreshHours:         24,
		ScheduledPullEnabled: true,
		ScheduledPullHour:    1,
		ScheduledPullMinute:  0,
	}
}

// Validate rejects out-of-range values
func (s *AppSettings) Validate() error {
	if s.RefreshHours < MinRefreshHours || s.RefreshHours > MaxRefreshHours {
		return ErrSettingsOutOfRange
	}
	if s.ScheduledPullHour < 0 || s.ScheduledPullHour > 23 {
		return ErrSettingsOutOfRange
	}
	if s.ScheduledPullMinute < 0 || s.ScheduledPullMinute > 59 {
		return ErrSettingsOutOfRange
	}
	return nil
}
