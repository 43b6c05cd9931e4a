package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Passwords never reach the database as plaintext and only the exact
// secret that was set verifies afterwards, through account creation,
// password change and admin reset alike.
func TestProperty_PasswordLifecycle(t *testing.T) {
	db := setupServiceTestDB(t)
	userService := NewUserService(db)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	serial := 0
	secretGen := gen.SliceOfN(12, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("stored_credential_is_a_bcrypt_hash", prop.ForAll(
		func(password string) bool {
			serial++
			username := fmt.Sprintf("hash_user_%d", serial)

			created, err := userService.CreateUser(username, password, "", models.RoleUser)
			if err != nil {
				return false
			}
			if created.PasswordHash == password || !strings.HasPrefix(created.PasswordHash, "$2") {
				return false
			}

			_, err = userService.VerifyPassword(username, password)
			return err == nil
		},
		secretGen,
	))

	properties.Property("wrong_password_never_verifies", prop.ForAll(
		func(password, candidate string) bool {
			serial++
			username := fmt.Sprintf("verify_user_%d", serial)

			if _, err := userService.CreateUser(username, password, "", models.RoleUser); err != nil {
				return false
			}

			if candidate == password {
				candidate += "!"
			}
			_, err := userService.VerifyPassword(username, candidate)
			return errors.Is(err, ErrInvalidCredentials)
		},
		secretGen,
		secretGen,
	))

	properties.Property("change_password_swaps_the_accepted_secret", prop.ForAll(
		func(oldPassword, newPassword string) bool {
			if newPassword == oldPassword {
				newPassword += "X"
			}
			serial++
			username := fmt.Sprintf("change_user_%d", serial)

			created, err := userService.CreateUser(username, oldPassword, "", models.RoleUser)
			if err != nil {
				return false
			}
			if err := userService.ChangePassword(created.ID, oldPassword, newPassword); err != nil {
				return false
			}

			reloaded, err := userService.GetUserByID(created.ID)
			if err != nil {
				return false
			}
			if reloaded.PasswordHash == newPassword || !strings.HasPrefix(reloaded.PasswordHash, "$2") {
				return false
			}

			if _, err := userService.VerifyPassword(username, oldPassword); err == nil {
				return false
			}
			_, err = userService.VerifyPassword(username, newPassword)
			return err == nil
		},
		secretGen,
		secretGen,
	))

	properties.Property("admin_reset_needs_no_old_secret", prop.ForAll(
		func(oldPassword, newPassword string) bool {
			if newPassword == oldPassword {
				newPassword += "X"
			}
			serial++
			username := fmt.Sprintf("reset_user_%d", serial)

			created, err := userService.CreateUser(username, oldPassword, "", models.RoleUser)
			if err != nil {
				return false
			}
			if err := userService.ResetPassword(created.ID, newPassword); err != nil {
				return false
			}

			if _, err := userService.VerifyPassword(username, oldPassword); err == nil {
				return false
			}
			_, err = userService.VerifyPassword(username, newPassword)
			return err == nil
		},
		secretGen,
		secretGen,
	))

	properties.TestingRun(t)
}
