package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_LoginPasswordValidation verifies the login endpoint accepts
// exactly the stored password and issues a token naming the right user
func TestProperty_LoginPasswordValidation(t *testing.T) {
	fx := setupHandlerTest(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	serial := 0
	passwordGen := gen.SliceOfN(12, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("correct_password_yields_valid_token", prop.ForAll(
		func(password string) bool {
			serial++
			username := fmt.Sprintf("login_ok_%d", serial)
			if _, err := fx.userService.CreateUser(username, password, "", models.RoleUser); err != nil {
				return true // Skip on creation error
			}

			w := fx.doJSON(t, http.MethodPost, "/api/auth/login", LoginRequest{
				Username: username,
				Password: password,
			})
			if w.Code != http.StatusOK {
				return false
			}

			data, ok := decodeData(w)
			if !ok {
				return false
			}
			token, _ := data["token"].(string)

			claims, err := fx.jwtManager.ValidateToken(token)
			if err != nil {
				return false
			}
			return claims.Username == username && claims.Role == string(models.RoleUser)
		},
		passwordGen,
	))

	properties.Property("wrong_password_rejected", prop.ForAll(
		func(password string) bool {
			serial++
			username := fmt.Sprintf("login_bad_%d", serial)
			if _, err := fx.userService.CreateUser(username, password, "", models.RoleUser); err != nil {
				return true // Skip on creation error
			}

			w := fx.doJSON(t, http.MethodPost, "/api/auth/login", LoginRequest{
				Username: username,
				Password: password + "x",
			})
			return w.Code == http.StatusUnauthorized
		},
		passwordGen,
	))

	properties.TestingRun(t)
}
