package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// LogHandler handles audit log requests
type LogHandler struct {
	logService *services.LogService
}

// NewLogHandler creates a new LogHandler instance
func NewLogHandler(logService *services.LogService) *LogHandler {
	return &LogHandler{logService: logService}
}

// ListLogs returns audit log entries matching the query filters
// GET /api/logs
func (h *LogHandler) ListLogs(c *gin.Context) {
	userID, _ := strconv.ParseUint(c.Query("user_id"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	query := services.LogQuery{
		UserID: uint(userID),
		Level:  c.Query("level"),
		Module: c.Query("module"),
		Action: c.Query("action"),
		Page:   page,
		Limit:  limit,
	}

	dateParams := []struct {
		name   string
		target **time.Time
	}{
		{"start_time", &query.StartTime},
		{"end_time", &query.EndTime},
	}
	for _, param := range dateParams {
		parsed, ok := parseDateParam(c.Query(param.name))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid " + param.name + ": use RFC 3339 or YYYY-MM-DD",
				},
			})
			return
		}
		*param.target = parsed
	}

	result, err := h.logService.QueryLogs(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve logs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total": result.Total,
			"page":  query.Page,
			"limit": query.Limit,
			"logs":  result.Logs,
		},
	})
}
