package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"gorm.io/gorm"
)

// LogService writes the audit trail to the database. Every operation
// that changes state or touches Microsoft 365 goes through it, so the
// log table doubles as the operational history of the archive.
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
}

// NewLogService creates a log service recording at INFO and above
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{db: db, logLevel: models.LogLevelInfo}
}

// NewLogServiceWithLevel creates a log service with a configured
// threshold. Unknown level names fall back to INFO.
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{db: db, logLevel: parseLogLevel(level)}
}

func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

func levelRank(level models.LogLevel) int {
	switch level {
	case models.LogLevelDebug:
		return 0
	case models.LogLevelWarn:
		return 2
	case models.LogLevelError:
		return 3
	default:
		return 1
	}
}

// LogEntry is one row to be written to the audit trail
type LogEntry struct {
	UserID  uint
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{}
}

// Log persists an entry. Entries below the configured threshold are
// dropped silently; details that fail to serialize become an empty
// object rather than losing the row.
func (s *LogService) Log(entry LogEntry) error {
	if levelRank(entry.Level) < levelRank(s.logLevel) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	return s.db.Create(&models.Log{
		UserID:  entry.UserID,
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}).Error
}

func (s *LogService) logAt(level models.LogLevel, userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

// LogDebug records a DEBUG entry
func (s *LogService) LogDebug(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(models.LogLevelDebug, userID, module, action, message, details)
}

// LogInfo records an INFO entry
func (s *LogService) LogInfo(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(models.LogLevelInfo, userID, module, action, message, details)
}

// LogWarn records a WARN entry
func (s *LogService) LogWarn(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(models.LogLevelWarn, userID, module, action, message, details)
}

// LogError records an ERROR entry
func (s *LogService) LogError(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(models.LogLevelError, userID, module, action, message, details)
}

// TenantChangeDetails describes a tenant configuration change
type TenantChangeDetails struct {
	TenantID   uint   `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Field      string `json:"field,omitempty"`
	OldValue   string `json:"old_value,omitempty"`
	NewValue   string `json:"new_value,omitempty"`
}

// LogTenantCreated logs a tenant creation event
func (s *LogService) LogTenantCreated(userID uint, tenantID uint, name string) error {
	return s.LogInfo(userID, models.LogModuleTenant, "create", "Tenant created", TenantChangeDetails{
		TenantID:   tenantID,
		TenantName: name,
	})
}

// LogTenantUpdated logs a tenant update event
func (s *LogService) LogTenantUpdated(userID uint, tenantID uint, name string) error {
	return s.LogInfo(userID, models.LogModuleTenant, "update", "Tenant updated", TenantChangeDetails{
		TenantID:   tenantID,
		TenantName: name,
	})
}

// LogTenantDeleted logs a tenant deletion event
func (s *LogService) LogTenantDeleted(userID uint, tenantID uint, name string) error {
	return s.LogInfo(userID, models.LogModuleTenant, "delete", "Tenant deleted", TenantChangeDetails{
		TenantID:   tenantID,
		TenantName: name,
	})
}

// LogTenantStatusChanged logs a tenant activation or deactivation
func (s *LogService) LogTenantStatusChanged(userID uint, tenantID uint, name string, active bool) error {
	status := "deactivated"
	if active {
		status = "activated"
	}
	return s.LogInfo(userID, models.LogModuleTenant, "status_change", "Tenant "+status, TenantChangeDetails{
		TenantID:   tenantID,
		TenantName: name,
		Field:      "is_active",
		NewValue:   status,
	})
}

// APIRequestDetails describes one handled API request
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest records a handled API request. Client errors log as
// WARN and server errors as ERROR so failures stand out in the trail.
func (s *LogService) LogAPIRequest(userID uint, method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	switch {
	case statusCode >= 500:
		level = models.LogLevelError
	case statusCode >= 400:
		level = models.LogLevelWarn
	}

	return s.logAt(level, userID, models.LogModuleAPI, "request", method+" "+path, APIRequestDetails{
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Duration:   durationMs,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	})
}

// PullOperationDetails describes a message trace pull
type PullOperationDetails struct {
	TenantID       uint   `json:"tenant_id"`
	PullRunID      uint   `json:"pull_run_id,omitempty"`
	APIMethod      string `json:"api_method,omitempty"`
	TriggerType    string `json:"trigger_type,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	RecordsPulled  int    `json:"records_pulled,omitempty"`
	RecordsNew     int    `json:"records_new,omitempty"`
	RecordsUpdated int    `json:"records_updated,omitempty"`
	Status         string `json:"status"`
	ErrorMsg       string `json:"error_msg,omitempty"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
}

// LogPullStarted logs the start of a message trace pull
func (s *LogService) LogPullStarted(userID uint, run *models.PullRun) error {
	return s.LogInfo(userID, models.LogModulePull, "start", "Message trace pull started", PullOperationDetails{
		TenantID:    run.TenantID,
		PullRunID:   run.ID,
		APIMethod:   run.APIMethod,
		TriggerType: run.TriggerType,
		StartDate:   run.PullStartDate.Format(time.RFC3339),
		EndDate:     run.PullEndDate.Format(time.RFC3339),
		Status:      "running",
	})
}

// LogPullFinished logs the outcome of a finalized message trace pull
func (s *LogService) LogPullFinished(userID uint, run *models.PullRun) error {
	details := PullOperationDetails{
		TenantID:       run.TenantID,
		PullRunID:      run.ID,
		APIMethod:      run.APIMethod,
		TriggerType:    run.TriggerType,
		RecordsPulled:  run.RecordsPulled,
		RecordsNew:     run.RecordsNew,
		RecordsUpdated: run.RecordsUpdated,
		Status:         strings.ToLower(run.Status),
		DurationMs:     int64(run.DurationSeconds() * 1000),
	}

	level := models.LogLevelInfo
	message := "Message trace pull completed"

	switch models.PullStatus(run.Status) {
	case models.PullStatusFailed:
		level = models.LogLevelError
		message = "Message trace pull failed"
		details.ErrorMsg = run.ErrorMessage
	case models.PullStatusPartial:
		level = models.LogLevelWarn
		message = "Message trace pull completed with errors"
		details.ErrorMsg = run.ErrorMessage
	case models.PullStatusCancelled:
		level = models.LogLevelWarn
		message = "Message trace pull cancelled"
	}

	return s.logAt(level, userID, models.LogModulePull, "finish", message, details)
}

// LogPullRejected logs a pull request rejected because one is already running
func (s *LogService) LogPullRejected(userID uint, tenantID uint) error {
	return s.LogWarn(userID, models.LogModulePull, "reject", "Pull already in progress for tenant", PullOperationDetails{
		TenantID: tenantID,
		Status:   "rejected",
	})
}

// DiscoveryOperationDetails describes a domain discovery attempt
type DiscoveryOperationDetails struct {
	TenantID    uint   `json:"tenant_id"`
	DomainCount int    `json:"domain_count,omitempty"`
	Overwrite   bool   `json:"overwrite,omitempty"`
	Status      string `json:"status"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// LogDomainDiscovery logs a domain discovery attempt
func (s *LogService) LogDomainDiscovery(userID uint, tenantID uint, domainCount int, overwrite bool, err error) error {
	if err != nil {
		return s.LogError(userID, models.LogModuleDiscovery, "discover", "Domain discovery failed", DiscoveryOperationDetails{
			TenantID:  tenantID,
			Overwrite: overwrite,
			Status:    "failed",
			ErrorMsg:  err.Error(),
		})
	}
	return s.LogInfo(userID, models.LogModuleDiscovery, "discover", "Verified domains discovered", DiscoveryOperationDetails{
		TenantID:    tenantID,
		DomainCount: domainCount,
		Overwrite:   overwrite,
		Status:      "success",
	})
}

// LogDomainRefreshSkipped logs a skipped automatic domain refresh
func (s *LogService) LogDomainRefreshSkipped(tenantID uint, reason string) error {
	return s.LogDebug(0, models.LogModuleDiscovery, "refresh_skipped", "Domain refresh skipped: "+reason, DiscoveryOperationDetails{
		TenantID: tenantID,
		Status:   "skipped",
	})
}

// SettingsChangeDetails describes an application settings change
type SettingsChangeDetails struct {
	AutoRefreshDomains   bool `json:"auto_refresh_domains"`
	RefreshHours         int  `json:"refresh_hours"`
	ScheduledPullEnabled bool `json:"scheduled_pull_enabled"`
	ScheduledPullHour    int  `json:"scheduled_pull_hour"`
	ScheduledPullMinute  int  `json:"scheduled_pull_minute"`
}

// LogSettingsUpdated logs an application settings change
func (s *LogService) LogSettingsUpdated(userID uint, settings *models.AppSettings) error {
	return s.LogInfo(userID, models.LogModuleSettings, "update", "Application settings updated", SettingsChangeDetails{
		AutoRefreshDomains:   settings.AutoRefreshDomains,
		RefreshHours:         settings.RefreshHours,
		ScheduledPullEnabled: settings.ScheduledPullEnabled,
		ScheduledPullHour:    settings.ScheduledPullHour,
		ScheduledPullMinute:  settings.ScheduledPullMinute,
	})
}

// CertificateDetails describes a certificate upload
type CertificateDetails struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Thumbprint string `json:"thumbprint,omitempty"`
}

// LogCertificateUploaded logs a certificate upload event
func (s *LogService) LogCertificateUploaded(userID uint, filename string, size int64, thumbprint string) error {
	return s.LogInfo(userID, models.LogModuleTenant, "certificate_upload", "Certificate uploaded", CertificateDetails{
		Filename:   filename,
		Size:       size,
		Thumbprint: thumbprint,
	})
}

// AuthOperationDetails describes an authentication event
type AuthOperationDetails struct {
	Username  string `json:"username,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_msg,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// LogLogin logs a login attempt. Failures log as WARN with the reason
// so repeated attempts against an account are visible.
func (s *LogService) LogLogin(userID uint, username, clientIP string, success bool, err error) error {
	if success {
		return s.LogInfo(userID, models.LogModuleAuth, "login", "User logged in successfully", AuthOperationDetails{
			Username: username,
			ClientIP: clientIP,
			Status:   "success",
		})
	}

	details := AuthOperationDetails{
		Username: username,
		ClientIP: clientIP,
		Status:   "failed",
	}
	if err != nil {
		details.ErrorMsg = err.Error()
	}
	return s.LogWarn(userID, models.LogModuleAuth, "login", "Login attempt failed", details)
}

// LogLogout logs a logout event
func (s *LogService) LogLogout(userID uint) error {
	return s.LogInfo(userID, models.LogModuleAuth, "logout", "User logged out", nil)
}

// LogTokenGenerated logs a token issue or refresh
func (s *LogService) LogTokenGenerated(userID uint, tokenType string) error {
	return s.LogInfo(userID, models.LogModuleAuth, "token_generated", "Token generated", AuthOperationDetails{
		TokenType: tokenType,
		Status:    "success",
	})
}

// LogAPIKeyReset logs an API key reset event
func (s *LogService) LogAPIKeyReset(userID uint) error {
	return s.LogInfo(userID, models.LogModuleAuth, "api_key_reset", "API key reset", nil)
}

// LogPasswordChange logs a password change attempt
func (s *LogService) LogPasswordChange(userID uint, success bool, err error) error {
	if success {
		return s.LogInfo(userID, models.LogModuleAuth, "password_change", "Password changed successfully", AuthOperationDetails{
			Status: "success",
		})
	}

	details := AuthOperationDetails{Status: "failed"}
	if err != nil {
		details.ErrorMsg = err.Error()
	}
	return s.LogWarn(userID, models.LogModuleAuth, "password_change", "Password change failed", details)
}

// LogQuery narrows a log listing. Zero values mean no filter.
type LogQuery struct {
	UserID    uint
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult is one page of matching rows with the unpaged total
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs lists audit rows matching the query, newest first
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.UserID > 0 {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{Total: total, Logs: logs}, nil
}
