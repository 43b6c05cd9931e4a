package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/spf13/cobra"
)

// userCmd represents the user command group
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management",
	Long:  `Manage web users: create users, list them and reset passwords.`,
}

// userCreateCmd creates a new user
var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long:  `Create a new user interactively. The first user should be an admin.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fail("user service not initialized")
		}

		username := promptLine("Username: ")
		if username == "" {
			fail("username must not be empty")
		}

		password := promptNewPassword("Password")

		displayName := promptLine("Display name (optional, Enter to skip): ")
		if displayName == "" {
			displayName = username
		}

		// The first user defaults to admin so the system starts manageable
		defaultRole := models.RoleUser
		if users, err := userService.ListUsers(); err == nil && len(users) == 0 {
			defaultRole = models.RoleAdmin
		}

		role := defaultRole
		switch strings.ToLower(promptLine(fmt.Sprintf("Role (admin/user) [%s]: ", defaultRole))) {
		case "":
		case string(models.RoleAdmin):
			role = models.RoleAdmin
		case string(models.RoleUser):
			role = models.RoleUser
		default:
			fail("role must be admin or user")
		}

		newUser, err := userService.CreateUser(username, password, displayName, role)
		if err != nil {
			fail("failed to create user: %v", err)
		}

		fmt.Println()
		fmt.Println("User created.")
		fmt.Printf("  ID: %d\n", newUser.ID)
		fmt.Printf("  Username: %s\n", newUser.Username)
		fmt.Printf("  Display name: %s\n", newUser.DisplayName)
		fmt.Printf("  Role: %s\n", newUser.Role)
	},
}

// userListCmd lists all users
var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Long:  `Show every user known to the system.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fail("user service not initialized")
		}

		users, err := userService.ListUsers()
		if err != nil {
			fail("failed to list users: %v", err)
		}

		if len(users) == 0 {
			fmt.Println("No users yet. Create one with 'user create'.")
			return
		}

		fmt.Println("Users:")
		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("%-6s %-20s %-20s %-6s %s\n", "ID", "Username", "Display name", "Role", "Created")
		fmt.Println("--------------------------------------------------------------")
		for _, u := range users {
			createdAt := u.CreatedAt.Format("2006-01-02 15:04:05")
			fmt.Printf("%-6d %-20s %-20s %-6s %s\n", u.ID, u.Username, u.DisplayName, u.Role, createdAt)
		}
		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("%d users\n", len(users))
	},
}

// userResetPwdCmd resets a user's password
var userResetPwdCmd = &cobra.Command{
	Use:   "reset-pwd",
	Short: "Reset a user's password",
	Long:  `Reset the password of a user interactively. The operation asks for confirmation.`,
	Run: func(cmd *cobra.Command, args []string) {
		if userService == nil {
			fail("user service not initialized")
		}

		users, err := userService.ListUsers()
		if err != nil {
			fail("failed to list users: %v", err)
		}
		if len(users) == 0 {
			fmt.Println("No users yet. Create one with 'user create'.")
			return
		}

		fmt.Println("Known users:")
		for _, u := range users {
			fmt.Printf("  [%d] %s (%s)\n", u.ID, u.Username, u.DisplayName)
		}
		fmt.Println()

		idStr := promptLine("ID of the user whose password to reset: ")
		userID, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			fail("invalid user ID")
		}

		targetUser, err := userService.GetUserByID(uint(userID))
		if err != nil {
			fail("user not found: %v", err)
		}

		fmt.Printf("\nAbout to reset the password of '%s' (ID: %d).\n", targetUser.Username, targetUser.ID)
		if !confirm("Continue?") {
			fmt.Println("Cancelled.")
			return
		}

		newPassword := promptNewPassword("New password")

		if err := userService.ResetPassword(uint(userID), newPassword); err != nil {
			fail("failed to reset password: %v", err)
		}

		fmt.Println()
		fmt.Printf("Password of '%s' has been reset.\n", targetUser.Username)
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userResetPwdCmd)
}
