package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/spf13/cobra"
)

var (
	discoverAllFlag       bool
	discoverOverwriteFlag bool
)

// discoverCmd refreshes tenant domain sets from Microsoft 365
var discoverCmd = &cobra.Command{
	Use:   "discover-domains [tenant]",
	Short: "Discover owned domains from Microsoft 365",
	Long: `Fetch the verified domains of a tenant from Microsoft 365 and store
them as the tenant's owned domain set. Owned domains drive the Inbound,
Outbound and Internal classification of archived traces.

Tenants that already have domains configured are skipped unless
--overwrite is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !discoverAllFlag && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: name a tenant or pass --all")
			os.Exit(1)
		}
		if discoverAllFlag && len(args) > 0 {
			fmt.Fprintln(os.Stderr, "Error: --all does not take a tenant argument")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if discoverAllFlag {
			tenants, err := tenantService.GetActiveTenants()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to list tenants: %v\n", err)
				os.Exit(1)
			}
			if len(tenants) == 0 {
				fmt.Println("No active tenants configured.")
				return
			}

			failed := 0
			for i := range tenants {
				if err := discoverForTenant(ctx, &tenants[i]); err != nil {
					failed++
				}
			}
			if failed > 0 {
				fmt.Println()
				fmt.Printf("Discovery failed for %d of %d tenants\n", failed, len(tenants))
				os.Exit(1)
			}
			return
		}

		tenant := resolveTenant(args[0])
		if err := discoverForTenant(ctx, tenant); err != nil {
			os.Exit(1)
		}
	},
}

// discoverForTenant runs discovery for one tenant and reports the result.
// A tenant skipped for already having domains is not counted as a failure.
func discoverForTenant(ctx context.Context, tenant *models.Tenant) error {
	domains, err := discoveryService.DiscoverDomains(ctx, tenant.ID, 0, discoverOverwriteFlag)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDomainsAlreadyConfigured):
			fmt.Printf("%s: domains already configured, use --overwrite to replace them\n", tenant.Name)
			return nil
		case errors.Is(err, ms365.ErrUnsupportedOperation):
			fmt.Fprintf(os.Stderr, "%s: this tenant's access method cannot list verified domains\n", tenant.Name)
		case errors.Is(err, ms365.ErrPermissionDenied):
			fmt.Fprintf(os.Stderr, "%s: %v\n", tenant.Name, err)
			fmt.Fprintln(os.Stderr, "  Grant the app registration the 'Domain.Read.All' application permission with admin consent and retry.")
		default:
			fmt.Fprintf(os.Stderr, "%s: discovery failed: %v\n", tenant.Name, err)
		}
		return err
	}

	fmt.Printf("%s: %d domains\n", tenant.Name, len(domains))
	for _, domain := range domains {
		fmt.Printf("  - %s\n", domain)
	}
	return nil
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverAllFlag, "all", false, "discover domains for every active tenant")
	discoverCmd.Flags().BoolVar(&discoverOverwriteFlag, "overwrite", false, "replace an already configured domain set")
}
