package cli

import (
	"fmt"
	"os"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/spf13/cobra"
)

var fixDirectionsAllFlag bool

// fixDirectionsCmd reclassifies archived traces
var fixDirectionsCmd = &cobra.Command{
	Use:   "fix-directions [tenant]",
	Short: "Reclassify archived traces against current domain sets",
	Long: `Recompute the Inbound, Outbound, Internal or Unknown direction of
archived traces from each tenant's current owned domain set.

Traces keep the classification computed at pull time, so run this after
domains were discovered or edited to bring older records up to date.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !fixDirectionsAllFlag && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: name a tenant or pass --all")
			os.Exit(1)
		}
		if fixDirectionsAllFlag && len(args) > 0 {
			fmt.Fprintln(os.Stderr, "Error: --all does not take a tenant argument")
			os.Exit(1)
		}

		if fixDirectionsAllFlag {
			recounts, err := traceService.RecomputeAllDirections()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: reclassification failed: %v\n", err)
				os.Exit(1)
			}
			if len(recounts) == 0 {
				fmt.Println("No tenants configured.")
				return
			}

			names := tenantNames()
			for i := range recounts {
				printRecount(names[recounts[i].TenantID], &recounts[i])
			}
			return
		}

		tenant := resolveTenant(args[0])
		recount, err := traceService.RecomputeDirections(tenant)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reclassification failed: %v\n", err)
			os.Exit(1)
		}
		printRecount(tenant.Name, recount)
	},
}

func printRecount(name string, recount *services.DirectionRecount) {
	if name == "" {
		name = fmt.Sprintf("tenant %d", recount.TenantID)
	}
	fmt.Printf("%s: %d traces examined, %d reclassified\n", name, recount.Examined, recount.Changed)
	if recount.Changed > 0 {
		fmt.Printf("  inbound %d, outbound %d, internal %d, unknown %d\n",
			recount.ToInbound, recount.ToOutbound, recount.ToInternal, recount.ToUnknown)
	}
}

// tenantNames maps tenant row IDs to display names
func tenantNames() map[uint]string {
	names := make(map[uint]string)
	tenants, err := tenantService.GetAllTenants()
	if err != nil {
		return names
	}
	for i := range tenants {
		names[tenants[i].ID] = tenants[i].Name
	}
	return names
}

func init() {
	fixDirectionsCmd.Flags().BoolVar(&fixDirectionsAllFlag, "all", false, "reclassify every tenant's archive")
}
