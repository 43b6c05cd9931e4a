package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/spf13/cobra"
)

// schedulerCmd runs the pull scheduler without the web API
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run scheduled pulls in the foreground",
	Long: `Run the pull scheduler on its own, without the web API. Pulls fire
daily at the time configured in the application settings (UTC) and cover
every active tenant. Domain sets refresh on their configured interval.

Stop with Ctrl+C.`,
	Run: func(cmd *cobra.Command, args []string) {
		scheduler := services.NewPullScheduler(db, pullService, tenantService, logService)
		scheduler.Start()
		defer scheduler.Stop()

		settingsService := services.NewSettingsService(db)
		if settings, err := settingsService.GetSettings(); err == nil {
			if settings.ScheduledPullEnabled {
				fmt.Printf("Scheduler running, daily pull at %02d:%02d UTC. Press Ctrl+C to stop.\n",
					settings.ScheduledPullHour, settings.ScheduledPullMinute)
			} else {
				fmt.Println("Scheduler running, but scheduled pulls are disabled in the application settings.")
				fmt.Println("It will start pulling once the setting is enabled. Press Ctrl+C to stop.")
			}
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		fmt.Println()
		fmt.Println("Scheduler stopped.")
	},
}
