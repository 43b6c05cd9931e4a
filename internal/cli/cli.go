package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/config"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	db               *gorm.DB
	cfg              *config.Config
	apiKeyManager    *middleware.APIKeyManager
	logService       *services.LogService
	userService      *services.UserService
	tenantService    *services.TenantService
	traceService     *services.TraceService
	discoveryService *services.DiscoveryService
	pullService      *services.PullService
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "exo-trace-archiver",
	Short: "Exchange Online message trace archiver",
	Long: `Exo Trace Archiver pulls message traces from Microsoft 365 tenants
and keeps them in a local archive for searching and auditing.

The command line covers the operational tasks:
  exo-trace-archiver pull --all                 # pull traces for every active tenant
  exo-trace-archiver pull 3 --start 2026-01-01 --end 2026-01-07
  exo-trace-archiver discover-domains --all     # refresh owned domains from Microsoft 365
  exo-trace-archiver fix-directions --all       # reclassify archived traces
  exo-trace-archiver scheduler                  # run scheduled pulls in the foreground
  exo-trace-archiver user create                # create a web user
  exo-trace-archiver key show                   # show the current API key
  exo-trace-archiver config init                # write a starter config.json`,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize the API key manager: %v\n", err)
		os.Exit(1)
	}

	logService = services.NewLogServiceWithLevel(db, cfg.LogLevel)
	userService = services.NewUserService(db)
	tenantService = services.NewTenantServiceWithOptions(db, cfg.GetEncryptionKey(),
		cfg.TracePageSize, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	traceService = services.NewTraceService(db)
	discoveryService = services.NewDiscoveryService(db, tenantService)
	pullService = services.NewPullService(db, tenantService)
	pullService.SetLookbackDays(cfg.LookbackDays)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(fixDirectionsCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(configCmd)
}
