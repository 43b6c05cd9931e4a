package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/certstore"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var handlerTestKey = []byte("0123456789abcdef0123456789abcdef")

// handlerFixture wires the full handler stack against a throwaway database.
// Requests go through a stub identity middleware instead of JWT validation;
// token checks have their own tests in the middleware package.
type handlerFixture struct {
	router *gin.Engine
	db     *gorm.DB

	userID   uint
	username string
	password string

	jwtManager *middleware.JWTManager

	userService     *services.UserService
	tenantService   *services.TenantService
	traceService    *services.TraceService
	pullService     *services.PullService
	settingsService *services.SettingsService
	logService      *services.LogService
}

func setupHandlerTest(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "handlers_test.db")
	db, err := database.Initialize(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	logService := services.NewLogService(db)
	userService := services.NewUserService(db)
	tenantService := services.NewTenantService(db, handlerTestKey)
	traceService := services.NewTraceService(db)
	discoveryService := services.NewDiscoveryService(db, tenantService)
	settingsService := services.NewSettingsService(db)
	pullService := services.NewPullService(db, tenantService)

	fx := &handlerFixture{
		db:              db,
		username:        "admin",
		password:        "handler-pass-123",
		jwtManager:      middleware.NewJWTManager("handler-test-secret", time.Hour),
		userService:     userService,
		tenantService:   tenantService,
		traceService:    traceService,
		pullService:     pullService,
		settingsService: settingsService,
		logService:      logService,
	}

	user, err := userService.CreateUser(fx.username, fx.password, "Administrator", models.RoleAdmin)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	fx.userID = user.ID

	authHandler := NewAuthHandler(userService, fx.jwtManager, logService)
	userHandler := NewUserHandler(userService, logService)
	tenantHandler := NewTenantHandler(tenantService, discoveryService, logService)
	traceHandler := NewTraceHandler(traceService, logService)
	pullHandler := NewPullHandler(pullService, tenantService, logService)
	settingsHandler := NewSettingsHandler(settingsService, logService)
	certHandler := NewCertificateHandler(certstore.New(filepath.Join(t.TempDir(), "certs")), logService)
	logHandler := NewLogHandler(logService)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(func(c *gin.Context) {
		c.Set("user_id", fx.userID)
		c.Set("username", fx.username)
		c.Set("role", string(models.RoleAdmin))
		c.Next()
	})

	auth := protected.Group("/auth")
	{
		auth.POST("/refresh", authHandler.RefreshToken)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", authHandler.GetCurrentUser)
	}

	userGroup := protected.Group("/user")
	{
		userGroup.GET("/profile", userHandler.GetProfile)
		userGroup.PUT("/profile", userHandler.UpdateProfile)
		userGroup.PUT("/password", userHandler.ChangePassword)
	}

	tenants := protected.Group("/tenants")
	{
		tenants.GET("", tenantHandler.ListTenants)
		tenants.POST("", tenantHandler.CreateTenant)
		tenants.GET("/:id", tenantHandler.GetTenant)
		tenants.PUT("/:id", tenantHandler.UpdateTenant)
		tenants.DELETE("/:id", tenantHandler.DeleteTenant)
		tenants.PUT("/:id/activate", tenantHandler.ActivateTenant)
		tenants.PUT("/:id/deactivate", tenantHandler.DeactivateTenant)
		tenants.GET("/:id/domains", tenantHandler.GetDomains)
		tenants.PUT("/:id/domains", tenantHandler.SetDomains)
		tenants.POST("/:id/pull", pullHandler.TriggerPull)
	}

	traces := protected.Group("/traces")
	{
		traces.GET("", traceHandler.ListTraces)
		traces.GET("/stats", traceHandler.GetDashboardStats)
		traces.GET("/:id", traceHandler.GetTrace)
	}

	pulls := protected.Group("/pulls")
	{
		pulls.GET("", pullHandler.ListPullRuns)
		pulls.GET("/:id", pullHandler.GetPullRun)
		pulls.POST("/:id/cancel", pullHandler.CancelPull)
	}

	certificates := protected.Group("/certificates")
	{
		certificates.GET("", certHandler.ListCertificates)
		certificates.POST("", certHandler.UploadCertificate)
	}

	settings := protected.Group("/settings")
	{
		settings.GET("", settingsHandler.GetSettings)
		settings.PUT("", settingsHandler.UpdateSettings)
	}

	protected.GET("/logs", logHandler.ListLogs)

	fx.router = router
	return fx
}

// doJSON performs a request with an optional JSON body and returns the recorder
func (fx *handlerFixture) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

// envelope decodes the response wrapper
func envelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

// dataObject returns the data field of a successful response as an object
func dataObject(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	body := envelope(t, w)
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response has no data object: %q", w.Body.String())
	}
	return data
}

// decodeData decodes the data field without failing the test, for use
// inside property functions
func decodeData(w *httptest.ResponseRecorder) (map[string]interface{}, bool) {
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		return nil, false
	}
	data, ok := body["data"].(map[string]interface{})
	return data, ok
}

// errorCode returns the error code of a failed response
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	body := envelope(t, w)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response has no error object: %q", w.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

// uintPath formats a database id for use in a request path
func uintPath(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// tenantIDFromResponse extracts the numeric id of a decoded response object
// as a path-ready string
func tenantIDFromResponse(t *testing.T, data map[string]interface{}) string {
	t.Helper()

	id, ok := data["id"].(float64)
	if !ok {
		t.Fatalf("Response object has no numeric id: %v", data)
	}
	return strconv.FormatUint(uint64(id), 10)
}

// createTenantRequest builds a valid secret-auth tenant creation body
func createTenantRequest(name, tenantID string) CreateTenantRequest {
	return CreateTenantRequest{
		Name:         name,
		TenantID:     tenantID,
		ClientID:     "11111111-2222-3333-4444-555555555555",
		AuthMethod:   string(models.AuthMethodSecret),
		ClientSecret: "super-secret-value-42",
		APIMethod:    string(models.APIMethodGraph),
		Domains:      []string{"contoso.com"},
	}
}

// seedPullRun inserts a pull run row directly with the given status
func seedPullRun(t *testing.T, db *gorm.DB, tenantID uint, status models.PullStatus) *models.PullRun {
	t.Helper()

	start := time.Now().UTC().Add(-time.Hour)
	run := &models.PullRun{
		TenantID:      tenantID,
		StartTime:     start,
		PullStartDate: start.Add(-24 * time.Hour),
		PullEndDate:   start,
		Status:        string(status),
		TriggerType:   string(models.TriggerManual),
		TriggeredBy:   "admin",
		APIMethod:     string(models.APIMethodGraph),
	}
	if status.IsTerminal() {
		end := start.Add(time.Minute)
		run.EndTime = &end
		run.RecordsPulled = 10
		run.RecordsNew = 8
		run.RecordsUpdated = 2
	}
	if err := db.Create(run).Error; err != nil {
		t.Fatalf("Failed to seed pull run: %v", err)
	}
	return run
}

// seedArchivedTrace inserts an archived trace row directly
func seedArchivedTrace(t *testing.T, db *gorm.DB, tenantID uint, messageID, sender, recipient, status, direction string, received time.Time) *models.MessageTrace {
	t.Helper()

	trace := &models.MessageTrace{
		TenantID:     tenantID,
		MessageID:    messageID,
		ReceivedDate: received,
		Sender:       sender,
		Recipient:    recipient,
		Subject:      "Subject of " + messageID,
		Status:       status,
		Direction:    direction,
		Size:         2048,
		EventData:    `{"status":"` + status + `"}`,
		RawJSON:      `{"messageId":"` + messageID + `"}`,
		TraceDate:    time.Now().UTC(),
	}
	if err := db.Create(trace).Error; err != nil {
		t.Fatalf("Failed to seed trace: %v", err)
	}
	return trace
}
