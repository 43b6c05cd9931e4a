package handlers

import (
	"errors"
	"net/http"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// SettingsHandler handles application settings requests
type SettingsHandler struct {
	settingsService *services.SettingsService
	logService      *services.LogService
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(settingsService *services.SettingsService, logService *services.LogService) *SettingsHandler {
	return &SettingsHandler{
		settingsService: settingsService,
		logService:      logService,
	}
}

// AppSettingsResponse represents the application settings
type AppSettingsResponse struct {
	AutoRefreshDomains   bool  `json:"auto_refresh_domains"`
	RefreshHours         int   `json:"refresh_hours"`
	ScheduledPullEnabled bool  `json:"scheduled_pull_enabled"`
	ScheduledPullHour    int   `json:"scheduled_pull_hour"`
	ScheduledPullMinute  int   `json:"scheduled_pull_minute"`
	UpdatedAt            int64 `json:"updated_at"`
}

// UpdateAppSettingsRequest represents the request to update settings.
// Absent fields keep their stored values.
type UpdateAppSettingsRequest struct {
	AutoRefreshDomains   *bool `json:"auto_refresh_domains"`
	RefreshHours         *int  `json:"refresh_hours"`
	ScheduledPullEnabled *bool `json:"scheduled_pull_enabled"`
	ScheduledPullHour    *int  `json:"scheduled_pull_hour"`
	ScheduledPullMinute  *int  `json:"scheduled_pull_minute"`
}

// toSettingsResponse converts an AppSettings model to AppSettingsResponse
func toSettingsResponse(settings *models.AppSettings) AppSettingsResponse {
	return AppSettingsResponse{
		AutoRefreshDomains:   settings.AutoRefreshDomains,
		RefreshHours:         settings.RefreshHours,
		ScheduledPullEnabled: settings.ScheduledPullEnabled,
		ScheduledPullHour:    settings.ScheduledPullHour,
		ScheduledPullMinute:  settings.ScheduledPullMinute,
		UpdatedAt:            settings.UpdatedAt.Unix(),
	}
}

// GetSettings returns the application settings
// GET /api/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settingsService.GetSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve settings",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toSettingsResponse(settings),
	})
}

// UpdateSettings updates the application settings
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	var req UpdateAppSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	settings, err := h.settingsService.UpdateSettings(userID, services.UpdateSettingsInput{
		AutoRefreshDomains:   req.AutoRefreshDomains,
		RefreshHours:         req.RefreshHours,
		ScheduledPullEnabled: req.ScheduledPullEnabled,
		ScheduledPullHour:    req.ScheduledPullHour,
		ScheduledPullMinute:  req.ScheduledPullMinute,
	})
	if err != nil {
		if errors.Is(err, models.ErrSettingsOutOfRange) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Settings value out of range",
					"details": "refresh_hours 1-168, scheduled_pull_hour 0-23, scheduled_pull_minute 0-59",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update settings",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toSettingsResponse(settings),
	})
}
