package handlers

import (
	"errors"
	"net/http"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// UserHandler handles the self-service profile surface
type UserHandler struct {
	userService *services.UserService
	logService  *services.LogService
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(userService *services.UserService, logService *services.LogService) *UserHandler {
	return &UserHandler{
		userService: userService,
		logService:  logService,
	}
}

// UpdateProfileRequest carries the editable profile fields
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// ChangePasswordRequest carries a password change. The new password
// must be at least 8 characters.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// GetProfile returns the calling user's own profile.
// GET /api/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "User not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ToProfileResponse(user),
	})
}

// UpdateProfile stores a new display name for the calling user.
// PUT /api/user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	user, err := h.userService.UpdateUser(userID, req.DisplayName)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "User not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update profile",
			},
		})
		return
	}

	h.logService.LogInfo(userID, models.LogModuleAuth, "profile_update", "User profile updated", map[string]interface{}{
		"display_name": req.DisplayName,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ToProfileResponse(user),
	})
}

// ChangePassword swaps the calling user's password after checking the
// current one. Both outcomes land in the audit log.
// PUT /api/user/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	if err := h.userService.ChangePassword(userID, req.OldPassword, req.NewPassword); err != nil {
		h.logService.LogPasswordChange(userID, false, err)

		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": "Current password is incorrect",
				},
			})
		case errors.Is(err, services.ErrPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "New password must be at least 8 characters",
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Failed to change password",
				},
			})
		}
		return
	}

	h.logService.LogPasswordChange(userID, true, nil)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
	})
}
