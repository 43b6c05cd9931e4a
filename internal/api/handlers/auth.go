package handlers

import (
	"net/http"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles login, logout and session token lifecycle
type AuthHandler struct {
	userService *services.UserService
	jwtManager  *middleware.JWTManager
	logService  *services.LogService
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(userService *services.UserService, jwtManager *middleware.JWTManager, logService *services.LogService) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		jwtManager:  jwtManager,
		logService:  logService,
	}
}

// LoginRequest carries the credentials for a login attempt
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries a freshly minted session token. The user object
// is present on login and omitted on refresh.
type LoginResponse struct {
	Token     string               `json:"token"`
	ExpiresAt int64                `json:"expires_at"`
	User      *UserProfileResponse `json:"user,omitempty"`
}

// UserProfileResponse is the public view of a user account
type UserProfileResponse struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CreatedAt   int64  `json:"created_at"`
}

// ToProfileResponse converts a User model to UserProfileResponse
func ToProfileResponse(user *models.User) UserProfileResponse {
	return UserProfileResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		CreatedAt:   user.CreatedAt.Unix(),
	}
}

// requireUserID pulls the authenticated user ID out of the request
// context, answering 401 itself when no identity is present.
func requireUserID(c *gin.Context) (uint, bool) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": "User not authenticated",
			},
		})
	}
	return userID, exists
}

// Login checks the submitted credentials and issues a session token
// along with the account's profile. Failed attempts are recorded with
// the caller's address.
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
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

	user, err := h.userService.VerifyPassword(req.Username, req.Password)
	if err != nil {
		h.logService.LogLogin(0, req.Username, c.ClientIP(), false, err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": "Invalid username or password",
			},
		})
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to generate token",
			},
		})
		return
	}

	h.logService.LogLogin(user.ID, req.Username, c.ClientIP(), true, nil)

	profile := ToProfileResponse(user)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": LoginResponse{
			Token:     token,
			ExpiresAt: expiresAt,
			User:      &profile,
		},
	})
}

// RefreshToken re-issues a token for the already authenticated session,
// pushing the expiry forward without another password check.
// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	username, _ := middleware.GetUsernameFromContext(c)
	role, _ := middleware.GetRoleFromContext(c)

	token, expiresAt, err := h.jwtManager.GenerateToken(userID, username, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to generate token",
			},
		})
		return
	}

	h.logService.LogTokenGenerated(userID, "refresh")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": LoginResponse{
			Token:     token,
			ExpiresAt: expiresAt,
		},
	})
}

// Logout records the logout. Tokens are stateless, so the client simply
// discards its copy; nothing is revoked server side.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if userID, exists := middleware.GetUserIDFromContext(c); exists {
		h.logService.LogLogout(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully",
	})
}

// GetCurrentUser returns the profile behind the presented token.
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
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
