package api

import (
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/handlers"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/certstore"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/config"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SetupRouter initializes and returns the Gin router with all routes
// configured, plus the auth manager and the background pull scheduler.
// The scheduler is started; the caller owns stopping it on shutdown.
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *middleware.AuthManager, *services.PullScheduler, error) {
	router := gin.Default()

	router.Use(cors.New(corsConfig(cfg)))

	// Initialize auth manager
	authManager, err := middleware.NewAuthManager(cfg.DataDir, cfg.JWTSecret, middleware.DefaultTokenExpiry)
	if err != nil {
		return nil, nil, nil, err
	}

	// Initialize services
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	userService := services.NewUserService(db)
	tenantService := services.NewTenantServiceWithOptions(db, cfg.GetEncryptionKey(),
		cfg.TracePageSize, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	traceService := services.NewTraceService(db)
	discoveryService := services.NewDiscoveryService(db, tenantService)
	settingsService := services.NewSettingsService(db)
	pullService := services.NewPullService(db, tenantService)
	pullService.SetLookbackDays(cfg.LookbackDays)
	certStore := certstore.New(cfg.GetCertsDir())

	// Start the scheduler for daily pulls and domain refresh sweeps
	pullScheduler := services.NewPullScheduler(db, pullService, tenantService, logService)
	pullScheduler.Start()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userService, authManager.JWTManager, logService)
	userHandler := handlers.NewUserHandler(userService, logService)
	tenantHandler := handlers.NewTenantHandler(tenantService, discoveryService, logService)
	traceHandler := handlers.NewTraceHandler(traceService, logService)
	pullHandler := handlers.NewPullHandler(pullService, tenantService, logService)
	settingsHandler := handlers.NewSettingsHandler(settingsService, logService)
	certificateHandler := handlers.NewCertificateHandler(certStore, logService)
	logHandler := handlers.NewLogHandler(logService)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Request logging runs outside the key gate so rejected
		// requests land in the audit trail too
		api.Use(requestLog(logService))
		api.Use(middleware.APIKeyMiddleware(authManager.APIKeyManager))

		// Auth routes (API key required, but no JWT required)
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes (API key + JWT required)
		protected := api.Group("")
		protected.Use(middleware.JWTMiddleware(authManager.JWTManager))
		{
			// Auth routes that require authentication
			protected.POST("/auth/refresh", authHandler.RefreshToken)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/me", authHandler.GetCurrentUser)

			// User routes
			userGroup := protected.Group("/user")
			{
				userGroup.GET("/profile", userHandler.GetProfile)
				userGroup.PUT("/profile", userHandler.UpdateProfile)
				userGroup.PUT("/password", userHandler.ChangePassword)
			}

			// Tenant routes
			tenants := protected.Group("/tenants")
			{
				tenants.GET("", tenantHandler.ListTenants)
				tenants.POST("", tenantHandler.CreateTenant)
				tenants.GET("/:id", tenantHandler.GetTenant)
				tenants.PUT("/:id", tenantHandler.UpdateTenant)
				tenants.DELETE("/:id", tenantHandler.DeleteTenant)
				tenants.PUT("/:id/activate", tenantHandler.ActivateTenant)
				tenants.PUT("/:id/deactivate", tenantHandler.DeactivateTenant)
				tenants.POST("/:id/test", tenantHandler.TestConnection)
				tenants.GET("/:id/domains", tenantHandler.GetDomains)
				tenants.PUT("/:id/domains", tenantHandler.SetDomains)
				tenants.POST("/:id/discover", tenantHandler.DiscoverDomains)
				tenants.POST("/:id/pull", pullHandler.TriggerPull)
			}

			// Trace routes
			traces := protected.Group("/traces")
			{
				traces.GET("", traceHandler.ListTraces)
				traces.GET("/stats", traceHandler.GetDashboardStats) // must be before /:id
				traces.GET("/:id", traceHandler.GetTrace)
			}

			// Pull run routes
			pulls := protected.Group("/pulls")
			{
				pulls.GET("", pullHandler.ListPullRuns)
				pulls.POST("/all", pullHandler.TriggerPullAll) // must be before /:id routes
				pulls.GET("/:id", pullHandler.GetPullRun)
				pulls.POST("/:id/cancel", pullHandler.CancelPull)
			}

			// Certificate routes
			certificates := protected.Group("/certificates")
			{
				certificates.GET("", certificateHandler.ListCertificates)
				certificates.POST("", certificateHandler.UploadCertificate)
			}

			// Settings routes
			settings := protected.Group("/settings")
			{
				settings.GET("", settingsHandler.GetSettings)
				settings.PUT("", settingsHandler.UpdateSettings)
			}

			// Audit log routes
			logs := protected.Group("/logs")
			{
				logs.GET("", logHandler.ListLogs)
			}
		}
	}

	return router, authManager, pullScheduler, nil
}

// requestLog stamps each API request with an ID, echoed in the
// X-Request-ID response header, and records the request in the audit log
// once the handler chain finishes. Requests the key gate rejects are
// recorded with user ID 0.
func requestLog(logService *services.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		userID, _ := middleware.GetUserIDFromContext(c)
		logService.LogAPIRequest(userID, c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Milliseconds(),
			c.ClientIP(), c.GetHeader("User-Agent"))
	}
}

// corsConfig builds the CORS policy from the configured origin list
func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins := strings.TrimSpace(cfg.CORSOrigins)
	if origins == "" || origins == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			corsCfg.AllowOrigins = append(corsCfg.AllowOrigins, origin)
		}
	}
	return corsCfg
}
