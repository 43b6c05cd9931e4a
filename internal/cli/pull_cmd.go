package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/spf13/cobra"
)

var (
	pullAllFlag   bool
	pullStartFlag string
	pullEndFlag   string
)

// pullCmd runs message trace pulls from the command line
var pullCmd = &cobra.Command{
	Use:   "pull [tenant]",
	Short: "Pull message traces from Microsoft 365",
	Long: `Pull message traces for one tenant or for every active tenant.

The tenant argument accepts the numeric ID, the Microsoft tenant ID or the
configured name. Without --start and --end the pull covers yesterday (UTC).
Interrupting a pull stops it cleanly; records already stored are kept and
the run is recorded as Cancelled.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !pullAllFlag && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: name a tenant or pass --all")
			os.Exit(1)
		}
		if pullAllFlag && len(args) > 0 {
			fmt.Fprintln(os.Stderr, "Error: --all does not take a tenant argument")
			os.Exit(1)
		}

		opts := services.PullOptions{
			TriggerType: models.TriggerManual,
			TriggeredBy: "cli",
		}
		var ok bool
		if opts.StartDate, ok = parseCmdDate(pullStartFlag); !ok {
			fmt.Fprintf(os.Stderr, "Error: invalid --start %q: use RFC 3339 or YYYY-MM-DD\n", pullStartFlag)
			os.Exit(1)
		}
		if opts.EndDate, ok = parseCmdDate(pullEndFlag); !ok {
			fmt.Fprintf(os.Stderr, "Error: invalid --end %q: use RFC 3339 or YYYY-MM-DD\n", pullEndFlag)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if pullAllFlag {
			outcomes, err := pullService.PullAllTenants(ctx, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: pull failed: %v\n", err)
				os.Exit(1)
			}
			if len(outcomes) == 0 {
				fmt.Println("No active tenants configured.")
				return
			}

			failed := 0
			for _, outcome := range outcomes {
				printPullOutcome(outcome.Tenant.Name, outcome.Run, outcome.Err)
				if outcome.Err != nil {
					failed++
				}
			}
			fmt.Println()
			fmt.Printf("%d tenants pulled, %d failed\n", len(outcomes), failed)
			if failed > 0 {
				os.Exit(1)
			}
			return
		}

		tenant := resolveTenant(args[0])
		run, err := pullService.PullTenant(ctx, tenant.ID, opts)
		printPullOutcome(tenant.Name, run, err)
		if err != nil {
			os.Exit(1)
		}
	},
}

// printPullOutcome reports one tenant's pull result on stdout
func printPullOutcome(name string, run *models.PullRun, err error) {
	if run == nil {
		fmt.Printf("%s: pull failed: %v\n", name, err)
		return
	}

	fmt.Printf("%s: %s", name, run.Status)
	if run.ErrorMessage != "" {
		fmt.Printf(" (%s)", run.ErrorMessage)
	}
	fmt.Println()
	fmt.Printf("  %d records pulled, %d new, %d updated in %.1fs\n",
		run.RecordsPulled, run.RecordsNew, run.RecordsUpdated, run.DurationSeconds())
}

// resolveTenant looks a tenant up by numeric ID, Microsoft tenant ID or
// name, exiting with an error when nothing matches
func resolveTenant(arg string) *models.Tenant {
	if id, err := strconv.ParseUint(arg, 10, 32); err == nil {
		tenant, err := tenantService.GetTenantByID(uint(id))
		if err == nil {
			return tenant
		}
	}

	if tenant, err := tenantService.GetTenantByTenantID(arg); err == nil {
		return tenant
	}

	tenants, err := tenantService.GetAllTenants()
	if err == nil {
		for i := range tenants {
			if tenants[i].Name == arg {
				return &tenants[i]
			}
		}
	}

	fmt.Fprintf(os.Stderr, "Error: no tenant matches %q\n", arg)
	os.Exit(1)
	return nil
}

// parseCmdDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
// An empty value parses to the zero time.
func parseCmdDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), true
	}
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

func init() {
	pullCmd.Flags().BoolVar(&pullAllFlag, "all", false, "pull every active tenant")
	pullCmd.Flags().StringVar(&pullStartFlag, "start", "", "start of the pull window (YYYY-MM-DD)")
	pullCmd.Flags().StringVar(&pullEndFlag, "end", "", "end of the pull window (YYYY-MM-DD)")
}
