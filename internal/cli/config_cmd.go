package cli

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/config"
)

var configForceFlag bool

// configCmd represents the config command group
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Inspect the effective configuration or write a starter config file.`,
}

// configInitCmd writes a starter config file
var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter config.json",
	Long: `Write a config file holding the default settings and a freshly
generated JWT secret. An existing file is left alone unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "config.json"
		if len(args) == 1 {
			path = args[0]
		}

		if !configForceFlag {
			if _, err := os.Stat(path); err == nil {
				fail("%s already exists, use --force to overwrite", path)
			}
		}

		starter := config.Defaults()
		starter.JWTSecret = randomSecret()

		if err := starter.Save(path); err != nil {
			fail("failed to write %s: %v", path, err)
		}

		fmt.Printf("Wrote %s with a generated JWT secret.\n", path)
	},
}

// configShowCmd prints the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration after defaults, the config file and the
environment are merged. Secret values are redacted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg == nil {
			fail("configuration not initialized")
		}

		redacted := *cfg
		if redacted.JWTSecret == config.DefaultJWTSecret {
			redacted.JWTSecret = "(default, change in production)"
		} else {
			redacted.JWTSecret = "(set)"
		}
		if redacted.EncryptionKey == "" {
			redacted.EncryptionKey = "(derived from jwt_secret)"
		} else {
			redacted.EncryptionKey = "(set)"
		}

		out, err := json.MarshalIndent(&redacted, "", "  ")
		if err != nil {
			fail("failed to render configuration: %v", err)
		}
		fmt.Println(string(out))
	},
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		fail("failed to generate a secret: %v", err)
	}
	return hex.EncodeToString(buf)
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().BoolVar(&configForceFlag, "force", false, "overwrite an existing config file")
}
