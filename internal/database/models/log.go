package models

import (
	"time"
)

// Log is one row of the persistent audit trail. API requests, pull runs,
// discovery passes and account changes all land here, tagged with the
// acting user (0 for unattended work) and a JSON details payload whose
// shape depends on the action.
type Log struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Level     string    `gorm:"size:20;index" json:"level"`
	Module    string    `gorm:"size:50;index" json:"module"`
	Action    string    `gorm:"size:100" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// LogLevel is the severity of an audit entry. The log service orders
// levels DEBUG < INFO < WARN < ERROR when applying its threshold.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogModule names the subsystem a log entry originated from.
type LogModule string

const (
	LogModuleAuth      LogModule = "auth"
	LogModuleUser      LogModule = "user"
	LogModuleTenant    LogModule = "tenant"
	LogModuleTrace     LogModule = "trace"
	LogModulePull      LogModule = "pull"
	LogModuleDiscovery LogModule = "discovery"
	LogModuleScheduler LogModule = "scheduler"
	LogModuleSettings  LogModule = "settings"
	LogModuleAPI       LogModule = "api"
	LogModuleCLI       LogModule = "cli"
)
