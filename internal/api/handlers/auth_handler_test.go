package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/auth/login", LoginRequest{
		Username: fx.username,
		Password: fx.password,
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := dataObject(t, w)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	expiresAt, _ := data["expires_at"].(float64)
	assert.Greater(t, int64(expiresAt), time.Now().Unix())

	// The issued token carries the user's identity and role
	claims, err := fx.jwtManager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, fx.userID, claims.UserID)
	assert.Equal(t, fx.username, claims.Username)
	assert.Equal(t, "admin", claims.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fx := setupHandlerTest(t)

	tests := []struct {
		name string
		body LoginRequest
	}{
		{"wrong password", LoginRequest{Username: fx.username, Password: "wrong-password-1"}},
		{"unknown user", LoginRequest{Username: "nobody", Password: fx.password}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fx.doJSON(t, http.MethodPost, "/api/auth/login", tt.body)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "AUTH_FAILED", errorCode(t, w))
		})
	}

	w := fx.doJSON(t, http.MethodPost, "/api/auth/login", map[string]string{"username": fx.username})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestGetCurrentUser(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataObject(t, w)
	assert.Equal(t, fx.username, data["username"])
	assert.Equal(t, "Administrator", data["display_name"])
	assert.Equal(t, "admin", data["role"])
}

func TestUpdateProfile(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPut, "/api/user/profile", UpdateProfileRequest{DisplayName: "Mail Operator"})
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.doJSON(t, http.MethodGet, "/api/user/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Mail Operator", dataObject(t, w)["display_name"])
}

func TestChangePassword(t *testing.T) {
	fx := setupHandlerTest(t)

	// Wrong current password is rejected
	w := fx.doJSON(t, http.MethodPut, "/api/user/password", ChangePasswordRequest{
		OldPassword: "not-the-password",
		NewPassword: "fresh-password-456",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_FAILED", errorCode(t, w))

	// Too short a replacement fails binding
	w = fx.doJSON(t, http.MethodPut, "/api/user/password", ChangePasswordRequest{
		OldPassword: fx.password,
		NewPassword: "short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fx.doJSON(t, http.MethodPut, "/api/user/password", ChangePasswordRequest{
		OldPassword: fx.password,
		NewPassword: "fresh-password-456",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Only the new password logs in afterwards
	w = fx.doJSON(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: fx.username, Password: fx.password})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = fx.doJSON(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: fx.username, Password: "fresh-password-456"})
	assert.Equal(t, http.StatusOK, w.Code)
}
