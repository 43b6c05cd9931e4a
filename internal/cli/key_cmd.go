package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API key management",
	Long:  `Manage the API key that gates every API route: show the current key or reset it.`,
}

// keyShowCmd shows the current API key
var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current API key",
	Long:  `Print the API key clients must send in the X-API-Key header.`,
	Run: func(cmd *cobra.Command, args []string) {
		if apiKeyManager == nil {
			fail("API key manager not initialized")
		}

		currentKey := apiKeyManager.GetCurrentKey()
		if currentKey == "" {
			fail("failed to read the API key")
		}

		fmt.Println("Current API key:")
		fmt.Println(currentKey)
	},
}

// keyResetCmd resets the API key
var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the API key",
	Long:  `Generate a new API key. The old key stops working immediately, so the operation asks for confirmation.`,
	Run: func(cmd *cobra.Command, args []string) {
		if apiKeyManager == nil {
			fail("API key manager not initialized")
		}

		fmt.Println("Current API key:")
		fmt.Println(apiKeyManager.GetCurrentKey())
		fmt.Println()
		fmt.Println("Warning: after the reset, clients still using the old key lose access.")

		if !confirm("Reset the API key?") {
			fmt.Println("Cancelled.")
			return
		}

		newKey, err := apiKeyManager.ResetKey()
		if err != nil {
			fail("failed to reset the API key: %v", err)
		}
		if logService != nil {
			logService.LogAPIKeyReset(0)
		}

		fmt.Println()
		fmt.Println("API key reset.")
		fmt.Println("New API key:")
		fmt.Println(newKey)
	},
}

func init() {
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
