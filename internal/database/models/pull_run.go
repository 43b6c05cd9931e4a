package models

import (
	"time"
)

// PullRun records one message trace pull attempt for a tenant. Rows are
// created with status Running when the pull starts and finalized exactly
// once with a terminal status; finalized rows are never mutated again.
type PullRun struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	TenantID uint `gorm:"index;not null" json:"tenant_id"`

	StartTime time.Time  `gorm:"index" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	// Requested date range for the pull
	PullStartDate time.Time `json:"pull_start_date"`
	PullEndDate   time.Time `json:"pull_end_date"`

	RecordsPulled  int `gorm:"default:0" json:"records_pulled"`
	RecordsNew     int `gorm:"default:0" json:"records_new"`
	RecordsUpdated int `gorm:"default:0" json:"records_updated"`

	Status       string `gorm:"size:20;default:'Running';index" json:"status"` // Running, Success, Partial, Failed, Cancelled
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	TriggerType string `gorm:"size:20;default:'Scheduled'" json:"trigger_type"` // Scheduled, Manual
	TriggeredBy string `gorm:"size:150" json:"triggered_by"`
	APIMethod   string `gorm:"size:50" json:"api_method"`

	CreatedAt time.Time `json:"created_at"`
}

// DurationSeconds returns how long the pull took, or 0 while it is still running
func (p *PullRun) DurationSeconds() float64 {
	if p.EndTime == nil {
		return 0
	}
	return p.EndTime.Sub(p.StartTime).Seconds()
}

// PullStatus is the lifecycle state of a pull run
type PullStatus string

const (
	PullStatusRunning   PullStatus = "Running"
	PullStatusSuccess   PullStatus = "Success"
	PullStatusPartial   PullStatus = "Partial"
	PullStatusFailed    PullStatus = "Failed"
	PullStatusCancelled PullStatus = "Cancelled"
)

// IsValid checks if the pull status is valid
func (s PullStatus) IsValid() bool {
	switch s {
	case PullStatusRunning, PullStatusSuccess, PullStatusPartial,
		PullStatusFailed, PullStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status finalizes a run
func (s PullStatus) IsTerminal() bool {
	return s.IsValid() && s != PullStatusRunning
}

// TriggerType identifies what started a pull run
type TriggerType string

const (
	TriggerScheduled TriggerType = "Scheduled"
	TriggerManual    TriggerType = "Manual"
)

// IsValid checks if the trigger type is valid
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerScheduled, TriggerManual:
		return true
	}
	return false
}
