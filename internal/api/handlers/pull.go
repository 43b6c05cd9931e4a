package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// PullHandler handles message trace pull requests
type PullHandler struct {
	pullService   *services.PullService
	tenantService *services.TenantService
	logService    *services.LogService
}

// NewPullHandler creates a new PullHandler instance
func NewPullHandler(pullService *services.PullService, tenantService *services.TenantService, logService *services.LogService) *PullHandler {
	return &PullHandler{
		pullService:   pullService,
		tenantService: tenantService,
		logService:    logService,
	}
}

// PullRunResponse represents one pull run from the ledger
type PullRunResponse struct {
	ID              uint    `json:"id"`
	TenantID        uint    `json:"tenant_id"`
	StartTime       int64   `json:"start_time"`
	EndTime         *int64  `json:"end_time"`
	PullStartDate   int64   `json:"pull_start_date"`
	PullEndDate     int64   `json:"pull_end_date"`
	RecordsPulled   int     `json:"records_pulled"`
	RecordsNew      int     `json:"records_new"`
	RecordsUpdated  int     `json:"records_updated"`
	Status          string  `json:"status"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	TriggerType     string  `json:"trigger_type"`
	TriggeredBy     string  `json:"triggered_by"`
	APIMethod       string  `json:"api_method"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// toPullRunResponse converts a PullRun model to PullRunResponse
func toPullRunResponse(run *models.PullRun) PullRunResponse {
	response := PullRunResponse{
		ID:              run.ID,
		TenantID:        run.TenantID,
		StartTime:       run.StartTime.Unix(),
		PullStartDate:   run.PullStartDate.Unix(),
		PullEndDate:     run.PullEndDate.Unix(),
		RecordsPulled:   run.RecordsPulled,
		RecordsNew:      run.RecordsNew,
		RecordsUpdated:  run.RecordsUpdated,
		Status:          run.Status,
		ErrorMessage:    run.ErrorMessage,
		TriggerType:     run.TriggerType,
		TriggeredBy:     run.TriggeredBy,
		APIMethod:       run.APIMethod,
		DurationSeconds: run.DurationSeconds(),
	}

	if run.EndTime != nil {
		end := run.EndTime.Unix()
		response.EndTime = &end
	}

	return response
}

// TriggerPullRequest represents the optional date range for a manual pull.
// When absent the pull covers yesterday in UTC.
type TriggerPullRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// TriggerPull starts a manual pull for one tenant. The pull runs in the
// background; the response carries the Running ledger entry to poll.
// POST /api/tenants/:id/pull
func (h *PullHandler) TriggerPull(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)
	username, _ := middleware.GetUsernameFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	// The body is optional; an absent one means the default window
	var req TriggerPullRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
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

	opts := services.PullOptions{
		TriggerType: models.TriggerManual,
		TriggeredBy: username,
		ActorID:     userID,
	}

	window := []struct {
		name   string
		value  string
		target *time.Time
	}{
		{"start_date", req.StartDate, &opts.StartDate},
		{"end_date", req.EndDate, &opts.EndDate},
	}
	for _, param := range window {
		parsed, ok := parseDateParam(param.value)
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
		if parsed != nil {
			*param.target = *parsed
		}
	}

	run, err := h.pullService.StartPull(uint(tenantID), opts)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
		case errors.Is(err, services.ErrTenantNotActive):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Tenant is not active",
				},
			})
		case errors.Is(err, services.ErrPullAlreadyInProgress):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "A pull is already in progress for this tenant",
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Failed to start pull",
				},
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    toPullRunResponse(run),
	})
}

// StartedPull reports one tenant's outcome from a pull-all sweep
type StartedPull struct {
	TenantID   uint   `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	RunID      uint   `json:"run_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TriggerPullAll starts a manual pull for every active tenant. Pulls run
// concurrently in the background, one per tenant.
// POST /api/pulls/all
func (h *PullHandler) TriggerPullAll(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)
	username, _ := middleware.GetUsernameFromContext(c)

	tenants, err := h.tenantService.GetActiveTenants()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve tenants",
			},
		})
		return
	}

	started := make([]StartedPull, 0, len(tenants))
	for i := range tenants {
		tenant := &tenants[i]
		outcome := StartedPull{TenantID: tenant.ID, TenantName: tenant.Name}

		run, err := h.pullService.StartPull(tenant.ID, services.PullOptions{
			TriggerType: models.TriggerManual,
			TriggeredBy: username,
			ActorID:     userID,
		})
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.RunID = run.ID
		}
		started = append(started, outcome)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"tenants": len(started),
			"pulls":   started,
		},
	})
}

// ListPullRuns returns pull runs matching the query filters, newest first
// GET /api/pulls
func (h *PullHandler) ListPullRuns(c *gin.Context) {
	tenantID, _ := strconv.ParseUint(c.Query("tenant_id"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.pullService.QueryPullRuns(services.PullRunQuery{
		TenantID: uint(tenantID),
		Status:   c.Query("status"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve pull runs",
			},
		})
		return
	}

	var runs []PullRunResponse
	for i := range result.Runs {
		runs = append(runs, toPullRunResponse(&result.Runs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total": result.Total,
			"runs":  runs,
		},
	})
}

// GetPullRun returns a single pull run
// GET /api/pulls/:id
func (h *PullHandler) GetPullRun(c *gin.Context) {
	runID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid pull run ID",
			},
		})
		return
	}

	run, err := h.pullService.GetPullRunByID(uint(runID))
	if err != nil {
		if errors.Is(err, services.ErrPullRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Pull run not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve pull run",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toPullRunResponse(run),
	})
}

// CancelPull cancels a running pull. A live pull stops cooperatively and
// finalizes itself with the records ingested so far; the returned row may
// therefore still read Running until that happens.
// POST /api/pulls/:id/cancel
func (h *PullHandler) CancelPull(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	runID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid pull run ID",
			},
		})
		return
	}

	run, err := h.pullService.CancelPull(uint(runID), userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPullRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Pull run not found",
				},
			})
		case errors.Is(err, services.ErrAlreadyFinalized):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Pull run has already finished",
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Failed to cancel pull",
				},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toPullRunResponse(run),
	})
}
