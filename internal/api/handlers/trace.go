package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// TraceHandler handles archived message trace requests
type TraceHandler struct {
	traceService *services.TraceService
	logService   *services.LogService
}

// NewTraceHandler creates a new TraceHandler instance
func NewTraceHandler(traceService *services.TraceService, logService *services.LogService) *TraceHandler {
	return &TraceHandler{
		traceService: traceService,
		logService:   logService,
	}
}

// TraceResponse represents one archived message trace
type TraceResponse struct {
	ID           uint   `json:"id"`
	TenantID     uint   `json:"tenant_id"`
	MessageID    string `json:"message_id"`
	ReceivedDate int64  `json:"received_date"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	Status       string `json:"status"`
	Direction    string `json:"direction"`
	Size         int64  `json:"size"`
	TraceDate    int64  `json:"trace_date"`
}

// TraceDetailResponse adds the raw provider event to a trace
type TraceDetailResponse struct {
	TraceResponse
	EventData map[string]interface{} `json:"event_data,omitempty"`
	RawRecord map[string]interface{} `json:"raw_record,omitempty"`
}

// toTraceResponse converts a MessageTrace model to TraceResponse
func toTraceResponse(trace *models.MessageTrace) TraceResponse {
	return TraceResponse{
		ID:           trace.ID,
		TenantID:     trace.TenantID,
		MessageID:    trace.MessageID,
		ReceivedDate: trace.ReceivedDate.Unix(),
		Sender:       trace.Sender,
		Recipient:    trace.Recipient,
		Subject:      trace.Subject,
		Status:       trace.Status,
		Direction:    trace.Direction,
		Size:         trace.Size,
		TraceDate:    trace.TraceDate.Unix(),
	}
}

// toTraceDetailResponse converts a MessageTrace model including its stored
// provider payloads
func toTraceDetailResponse(trace *models.MessageTrace) TraceDetailResponse {
	response := TraceDetailResponse{TraceResponse: toTraceResponse(trace)}

	if trace.EventData != "" {
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(trace.EventData), &event); err == nil {
			response.EventData = event
		}
	}
	if trace.RawJSON != "" {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(trace.RawJSON), &raw); err == nil {
			response.RawRecord = raw
		}
	}

	return response
}

// parseDateParam accepts RFC 3339 timestamps and plain YYYY-MM-DD dates
func parseDateParam(value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		utc := parsed.UTC()
		return &utc, true
	}
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		utc := parsed.UTC()
		return &utc, true
	}
	return nil, false
}

// ListTraces returns archived traces matching the query filters
// GET /api/traces
func (h *TraceHandler) ListTraces(c *gin.Context) {
	tenantID, _ := strconv.ParseUint(c.Query("tenant_id"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	query := services.TraceQuery{
		TenantID:          uint(tenantID),
		Sender:            c.Query("sender"),
		SenderContains:    c.Query("sender_contains"),
		SenderDomain:      c.Query("sender_domain"),
		Recipient:         c.Query("recipient"),
		RecipientContains: c.Query("recipient_contains"),
		RecipientDomain:   c.Query("recipient_domain"),
		SubjectContains:   c.Query("subject"),
		Status:            c.Query("status"),
		Direction:         c.Query("direction"),
		Search:            c.Query("search"),
		Page:              page,
		Limit:             limit,
	}

	dateParams := []struct {
		name   string
		target **time.Time
	}{
		{"start_date", &query.StartDate},
		{"end_date", &query.EndDate},
		{"trace_start", &query.TraceStart},
		{"trace_end", &query.TraceEnd},
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

	result, err := h.traceService.QueryTraces(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve traces",
			},
		})
		return
	}

	var traces []TraceResponse
	for i := range result.Traces {
		traces = append(traces, toTraceResponse(&result.Traces[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total":  result.Total,
			"page":   query.Page,
			"limit":  query.Limit,
			"traces": traces,
		},
	})
}

// GetTrace returns a single archived trace with its raw provider record
// GET /api/traces/:id
func (h *TraceHandler) GetTrace(c *gin.Context) {
	traceID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid trace ID",
			},
		})
		return
	}

	trace, err := h.traceService.GetTraceByID(uint(traceID))
	if err != nil {
		if errors.Is(err, services.ErrTraceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Trace not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve trace",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toTraceDetailResponse(trace),
	})
}

// GetDashboardStats returns archive statistics, optionally scoped to one
// tenant via the tenant_id query parameter
// GET /api/traces/stats
func (h *TraceHandler) GetDashboardStats(c *gin.Context) {
	tenantID, _ := strconv.ParseUint(c.Query("tenant_id"), 10, 32)

	stats, err := h.traceService.GetDashboardStats(uint(tenantID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to compute statistics",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
