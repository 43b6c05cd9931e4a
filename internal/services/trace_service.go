package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/direction"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTraceNotFound indicates the message trace was not found
	ErrTraceNotFound = errors.New("message trace not found")
)

const (
	// ingestBatchSize is how many new trace rows are inserted per statement
	ingestBatchSize = 100
	// recomputeBatchSize is how many rows are loaded per batch when
	// recomputing directions
	recomputeBatchSize = 500
)

// TraceService handles message trace storage and retrieval
type TraceService struct {
	db         *gorm.DB
	logService *LogService
}

// NewTraceService creates a new TraceService instance
func NewTraceService(db *gorm.DB) *TraceService {
	return &TraceService{
		db:         db,
		logService: NewLogService(db),
	}
}

// IngestResult summarizes one ingestion pass
type IngestResult struct {
	Pulled  int `json:"pulled"`
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// IngestTraces normalizes raw provider records and stores them for a
// tenant. A record matching an existing row on (tenant, message ID,
// recipient, received date) updates that row's mutable fields when they
// differ; everything else is inserted in batches. Records whose received
// date cannot be parsed are skipped. Re-ingesting the same records leaves
// the archive untouched, so overlapping pull windows are safe.
func (s *TraceService) IngestTraces(tenant *models.Tenant, source models.APIMethod, raw []map[string]interface{}) (IngestResult, error) {
	result := IngestResult{Pulled: len(raw)}
	ownedDomains := tenant.OwnedDomains()
	traceDate := time.Now().UTC()

	batch := make([]*models.MessageTrace, 0, ingestBatchSize)
	flush := func() error {
		inserted, err := s.insertBatch(batch)
		if err != nil {
			return err
		}
		result.New += inserted
		batch = batch[:0]
		return nil
	}

	for _, item := range raw {
		record := ms365.NormalizeTrace(item, source)

		receivedDate, ok := ms365.ParseTraceTime(record.ReceivedDate)
		if !ok {
			result.Skipped++
			s.logService.LogWarn(0, models.LogModuleTrace, "ingest", "Skipping trace with unparseable received date", map[string]interface{}{
				"tenant_id":     tenant.ID,
				"message_id":    record.MessageID,
				"received_date": record.ReceivedDate,
			})
			continue
		}

		dir := direction.Classify(record.Sender, record.Recipient, ownedDomains)
		status := ms365.NormalizeStatus(record.Status)
		eventDataJSON := marshalOrEmpty(record.EventData)
		rawJSON := marshalOrEmpty(record.Raw)

		var existing models.MessageTrace
		err := s.db.Where(
			"tenant_id = ? AND message_id = ? AND recipient = ? AND received_date = ?",
			tenant.ID, record.MessageID, record.Recipient, receivedDate,
		).First(&existing).Error
		if err == nil {
			// Seen before: refresh only when the provider actually
			// reports something different, so re-ingesting identical
			// records leaves rows untouched
			if existing.Subject == record.Subject &&
				existing.Status == string(status) &&
				existing.Direction == string(dir) &&
				existing.Size == record.Size &&
				existing.EventData == eventDataJSON &&
				existing.RawJSON == rawJSON {
				continue
			}
			updates := map[string]interface{}{
				"subject":    record.Subject,
				"status":     string(status),
				"direction":  string(dir),
				"size":       record.Size,
				"event_data": eventDataJSON,
				"raw_json":   rawJSON,
				"trace_date": traceDate,
			}
			if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
				return result, err
			}
			result.Updated++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return result, err
		}

		batch = append(batch, &models.MessageTrace{
			TenantID:     tenant.ID,
			MessageID:    record.MessageID,
			ReceivedDate: receivedDate,
			Sender:       record.Sender,
			Recipient:    record.Recipient,
			Subject:      record.Subject,
			Status:       string(status),
			Direction:    string(dir),
			Size:         record.Size,
			EventData:    eventDataJSON,
			RawJSON:      rawJSON,
			TraceDate:    traceDate,
		})

		if len(batch) >= ingestBatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	return result, nil
}

// insertBatch inserts new trace rows, silently dropping rows that collide
// with the dedup index (the same record appearing twice in one payload).
// Returns the number of rows actually inserted.
func (s *TraceService) insertBatch(batch []*models.MessageTrace) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return int(tx.RowsAffected), nil
}

// marshalOrEmpty serializes a map to JSON, returning an empty object on
// failure
func marshalOrEmpty(data map[string]interface{}) string {
	if len(data) == 0 {
		return "{}"
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(bytes)
}

// TraceQuery represents query parameters for message trace retrieval
type TraceQuery struct {
	TenantID uint

	// Received date range
	StartDate *time.Time
	EndDate   *time.Time

	// Trace (pull) date range
	TraceStart *time.Time
	TraceEnd   *time.Time

	Sender            string // exact match
	SenderContains    string
	SenderDomain      string // domain of the sender address
	Recipient         string // exact match
	RecipientContains string
	RecipientDomain   string // domain of the recipient address
	SubjectContains   string
	Status            string
	Direction         string
	Search            string // matches sender, recipient, subject or message ID

	Page  int
	Limit int
}

// TraceQueryResult represents the result of a trace query
type TraceQueryResult struct {
	Total  int64
	Traces []models.MessageTrace
}

// QueryTraces retrieves message traces based on query parameters, newest
// received first
func (s *TraceService) QueryTraces(query TraceQuery) (*TraceQueryResult, error) {
	db := s.db.Model(&models.MessageTrace{})

	if query.TenantID > 0 {
		db = db.Where("tenant_id = ?", query.TenantID)
	}
	if query.StartDate != nil {
		db = db.Where("received_date >= ?", query.StartDate)
	}
	if query.EndDate != nil {
		db = db.Where("received_date <= ?", query.EndDate)
	}
	if query.TraceStart != nil {
		db = db.Where("trace_date >= ?", query.TraceStart)
	}
	if query.TraceEnd != nil {
		db = db.Where("trace_date <= ?", query.TraceEnd)
	}
	if query.Sender != "" {
		db = db.Where("sender = ?", query.Sender)
	}
	if query.SenderContains != "" {
		db = db.Where("sender LIKE ?", "%"+query.SenderContains+"%")
	}
	if query.SenderDomain != "" {
		db = db.Where("sender LIKE ?", "%@"+query.SenderDomain)
	}
	if query.Recipient != "" {
		db = db.Where("recipient = ?", query.Recipient)
	}
	if query.RecipientContains != "" {
		db = db.Where("recipient LIKE ?", "%"+query.RecipientContains+"%")
	}
	if query.RecipientDomain != "" {
		db = db.Where("recipient LIKE ?", "%@"+query.RecipientDomain)
	}
	if query.SubjectContains != "" {
		db = db.Where("subject LIKE ?", "%"+query.SubjectContains+"%")
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.Search != "" {
		pattern := "%" + query.Search + "%"
		db = db.Where(
			"sender LIKE ? OR recipient LIKE ? OR subject LIKE ? OR message_id LIKE ?",
			pattern, pattern, pattern, pattern,
		)
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

	var traces []models.MessageTrace
	if err := db.Order("received_date DESC").Offset(offset).Limit(query.Limit).Find(&traces).Error; err != nil {
		return nil, err
	}

	return &TraceQueryResult{
		Total:  total,
		Traces: traces,
	}, nil
}

// GetTraceByID retrieves a single message trace by ID
func (s *TraceService) GetTraceByID(id uint) (*models.MessageTrace, error) {
	var trace models.MessageTrace
	if err := s.db.First(&trace, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTraceNotFound
		}
		return nil, err
	}
	return &trace, nil
}

// DashboardStats summarizes the archive for the dashboard
type DashboardStats struct {
	TotalTraces   int64            `json:"total_traces"`
	TracesToday   int64            `json:"traces_today"`
	TracesWeek    int64            `json:"traces_week"`
	ByStatus      map[string]int64 `json:"by_status"`
	ByDirection   map[string]int64 `json:"by_direction"`
	TotalTenants  int64            `json:"total_tenants"`
	ActiveTenants int64            `json:"active_tenants"`
	LastPullTime  *time.Time       `json:"last_pull_time"`
	RecentPulls   []models.PullRun `json:"recent_pulls"`
}

// GetDashboardStats computes archive statistics. A tenantID of 0 covers
// all tenants.
func (s *TraceService) GetDashboardStats(tenantID uint) (*DashboardStats, error) {
	stats := &DashboardStats{
		ByStatus:    make(map[string]int64),
		ByDirection: make(map[string]int64),
	}

	traces := func() *gorm.DB {
		db := s.db.Model(&models.MessageTrace{})
		if tenantID > 0 {
			db = db.Where("tenant_id = ?", tenantID)
		}
		return db
	}

	if err := traces().Count(&stats.TotalTraces).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := todayStart.AddDate(0, 0, -7)

	if err := traces().Where("received_date >= ?", todayStart).Count(&stats.TracesToday).Error; err != nil {
		return nil, err
	}
	if err := traces().Where("received_date >= ?", weekStart).Count(&stats.TracesWeek).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		Name  string
		Total int64
	}

	var statusRows []countRow
	if err := traces().Select("status AS name, COUNT(*) AS total").Group("status").Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		stats.ByStatus[row.Name] = row.Total
	}

	var directionRows []countRow
	if err := traces().Select("direction AS name, COUNT(*) AS total").Group("direction").Scan(&directionRows).Error; err != nil {
		return nil, err
	}
	for _, row := range directionRows {
		stats.ByDirection[row.Name] = row.Total
	}

	if err := s.db.Model(&models.Tenant{}).Count(&stats.TotalTenants).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Tenant{}).Where("is_active = ?", true).Count(&stats.ActiveTenants).Error; err != nil {
		return nil, err
	}

	pulls := func() *gorm.DB {
		db := s.db.Model(&models.PullRun{})
		if tenantID > 0 {
			db = db.Where("tenant_id = ?", tenantID)
		}
		return db
	}

	var lastSuccess models.PullRun
	err := pulls().Where("status = ?", string(models.PullStatusSuccess)).Order("end_time DESC").First(&lastSuccess).Error
	if err == nil {
		stats.LastPullTime = lastSuccess.EndTime
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var recent []models.PullRun
	if err := pulls().Order("start_time DESC").Limit(5).Find(&recent).Error; err != nil {
		return nil, err
	}
	stats.RecentPulls = recent

	return stats, nil
}

// DirectionRecount reports the outcome of a direction recompute pass
type DirectionRecount struct {
	TenantID   uint `json:"tenant_id"`
	Examined   int  `json:"examined"`
	Changed    int  `json:"changed"`
	ToInbound  int  `json:"to_inbound"`
	ToOutbound int  `json:"to_outbound"`
	ToInternal int  `json:"to_internal"`
	ToUnknown  int  `json:"to_unknown"`
}

// RecomputeDirections reclassifies every stored trace for a tenant against
// its current owned domains, updating only rows whose direction changed.
// Used after the domain set changes.
func (s *TraceService) RecomputeDirections(tenant *models.Tenant) (*DirectionRecount, error) {
	ownedDomains := tenant.OwnedDomains()
	recount := &DirectionRecount{TenantID: tenant.ID}

	var traces []models.MessageTrace
	err := s.db.Where("tenant_id = ?", tenant.ID).FindInBatches(&traces, recomputeBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range traces {
			trace := &traces[i]
			recount.Examined++

			newDirection := direction.Classify(trace.Sender, trace.Recipient, ownedDomains)
			if string(newDirection) == trace.Direction {
				continue
			}

			if err := s.db.Model(trace).Update("direction", string(newDirection)).Error; err != nil {
				return err
			}

			recount.Changed++
			switch newDirection {
			case models.DirectionInbound:
				recount.ToInbound++
			case models.DirectionOutbound:
				recount.ToOutbound++
			case models.DirectionInternal:
				recount.ToInternal++
			case models.DirectionUnknown:
				recount.ToUnknown++
			}
		}
		return nil
	}).Error
	if err != nil {
		return nil, err
	}

	s.logService.LogInfo(0, models.LogModuleTrace, "recompute_directions", "Direction recompute completed", recount)

	return recount, nil
}

// RecomputeAllDirections runs a direction recompute for every tenant
func (s *TraceService) RecomputeAllDirections() ([]DirectionRecount, error) {
	var tenants []models.Tenant
	if err := s.db.Order("name ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}

	results := make([]DirectionRecount, 0, len(tenants))
	for i := range tenants {
		recount, err := s.RecomputeDirections(&tenants[i])
		if err != nil {
			return results, err
		}
		results = append(results, *recount)
	}
	return results, nil
}
