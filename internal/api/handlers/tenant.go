package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/ms365"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// TenantHandler handles tenant configuration requests
type TenantHandler struct {
	tenantService    *services.TenantService
	discoveryService *services.DiscoveryService
	logService       *services.LogService
}

// NewTenantHandler creates a new TenantHandler instance
func NewTenantHandler(tenantService *services.TenantService, discoveryService *services.DiscoveryService, logService *services.LogService) *TenantHandler {
	return &TenantHandler{
		tenantService:    tenantService,
		discoveryService: discoveryService,
		logService:       logService,
	}
}

// CreateTenantRequest represents the request to create a tenant
type CreateTenantRequest struct {
	Name                  string   `json:"name" binding:"required"`
	TenantID              string   `json:"tenant_id" binding:"required"`
	ClientID              string   `json:"client_id" binding:"required"`
	AuthMethod            string   `json:"auth_method"`
	ClientSecret          string   `json:"client_secret"`
	CertificatePath       string   `json:"certificate_path"`
	CertificateThumbprint string   `json:"certificate_thumbprint"`
	CertificatePassword   string   `json:"certificate_password"`
	APIMethod             string   `json:"api_method"`
	Organization          string   `json:"organization"`
	Domains               []string `json:"domains"`
}

// UpdateTenantRequest represents the request to update a tenant. Credential
// fields left empty keep their stored values.
type UpdateTenantRequest struct {
	Name                  string   `json:"name"`
	ClientID              string   `json:"client_id"`
	AuthMethod            string   `json:"auth_method"`
	ClientSecret          string   `json:"client_secret"`
	CertificatePath       string   `json:"certificate_path"`
	CertificateThumbprint string   `json:"certificate_thumbprint"`
	CertificatePassword   string   `json:"certificate_password"`
	APIMethod             string   `json:"api_method"`
	Organization          string   `json:"organization"`
	IsActive              *bool    `json:"is_active"`
	Domains               []string `json:"domains"`
}

// TenantResponse represents the response for a tenant. Credentials never
// leave the server; the secret appears masked so an operator can tell
// which one is configured.
type TenantResponse struct {
	ID                    uint     `json:"id"`
	Name                  string   `json:"name"`
	TenantID              string   `json:"tenant_id"`
	ClientID              string   `json:"client_id"`
	AuthMethod            string   `json:"auth_method"`
	ClientSecretMasked    string   `json:"client_secret_masked,omitempty"`
	HasCertificate        bool     `json:"has_certificate"`
	CertificateThumbprint string   `json:"certificate_thumbprint,omitempty"`
	APIMethod             string   `json:"api_method"`
	Organization          string   `json:"organization,omitempty"`
	Domains               []string `json:"domains"`
	DomainsLastUpdated    *int64   `json:"domains_last_updated"`
	IsActive              bool     `json:"is_active"`
	CreatedAt             int64    `json:"created_at"`
	UpdatedAt             int64    `json:"updated_at"`
}

// maskSecret renders a secret as its first and last four characters around
// a fixed star run. Short secrets are fully starred so nothing useful
// leaks from them.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// toTenantResponse converts a Tenant model to TenantResponse
func (h *TenantHandler) toTenantResponse(tenant *models.Tenant) TenantResponse {
	response := TenantResponse{
		ID:                    tenant.ID,
		Name:                  tenant.Name,
		TenantID:              tenant.TenantID,
		ClientID:              tenant.ClientID,
		AuthMethod:            tenant.AuthMethod,
		HasCertificate:        tenant.CertificatePath != "",
		CertificateThumbprint: tenant.CertificateThumbprint,
		APIMethod:             tenant.APIMethod,
		Organization:          tenant.Organization,
		Domains:               tenant.OwnedDomains(),
		IsActive:              tenant.IsActive,
		CreatedAt:             tenant.CreatedAt.Unix(),
		UpdatedAt:             tenant.UpdatedAt.Unix(),
	}

	if tenant.DomainsLastUpdated != nil {
		updated := tenant.DomainsLastUpdated.Unix()
		response.DomainsLastUpdated = &updated
	}

	if tenant.ClientSecretEncrypted != "" {
		if secret, err := h.tenantService.GetDecryptedSecret(tenant); err == nil {
			response.ClientSecretMasked = maskSecret(secret)
		}
	}

	return response
}

// ListTenants returns all configured tenants
// GET /api/tenants
func (h *TenantHandler) ListTenants(c *gin.Context) {
	tenants, err := h.tenantService.GetAllTenants()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve tenants",
			},
		})
		return
	}

	var response []TenantResponse
	for i := range tenants {
		response = append(response, h.toTenantResponse(&tenants[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

// CreateTenant creates a new tenant configuration
// POST /api/tenants
func (h *TenantHandler) CreateTenant(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	var req CreateTenantRequest
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

	input := services.CreateTenantInput{
		Name:                  req.Name,
		TenantID:              req.TenantID,
		ClientID:              req.ClientID,
		AuthMethod:            req.AuthMethod,
		ClientSecret:          req.ClientSecret,
		CertificatePath:       req.CertificatePath,
		CertificateThumbprint: req.CertificateThumbprint,
		CertificatePassword:   req.CertificatePassword,
		APIMethod:             req.APIMethod,
		Organization:          req.Organization,
		Domains:               req.Domains,
	}

	tenant, err := h.tenantService.CreateTenant(userID, input)
	if err != nil {
		if errors.Is(err, services.ErrTenantAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "A tenant with this tenant ID already exists",
				},
			})
			return
		}
		if errors.Is(err, services.ErrInvalidTenantData) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid tenant configuration",
					"details": err.Error(),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to create tenant",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    h.toTenantResponse(tenant),
	})
}

// GetTenant returns a specific tenant
// GET /api/tenants/:id
func (h *TenantHandler) GetTenant(c *gin.Context) {
	tenant, ok := h.tenantFromPath(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.toTenantResponse(tenant),
	})
}

// UpdateTenant updates a tenant configuration
// PUT /api/tenants/:id
func (h *TenantHandler) UpdateTenant(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	var req UpdateTenantRequest
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

	input := services.UpdateTenantInput{
		Name:                  req.Name,
		ClientID:              req.ClientID,
		AuthMethod:            req.AuthMethod,
		ClientSecret:          req.ClientSecret,
		CertificatePath:       req.CertificatePath,
		CertificateThumbprint: req.CertificateThumbprint,
		CertificatePassword:   req.CertificatePassword,
		APIMethod:             req.APIMethod,
		Organization:          req.Organization,
		IsActive:              req.IsActive,
		Domains:               req.Domains,
	}

	tenant, err := h.tenantService.UpdateTenant(uint(tenantID), userID, input)
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return
		}
		if errors.Is(err, services.ErrInvalidTenantData) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid tenant configuration",
					"details": err.Error(),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update tenant",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.toTenantResponse(tenant),
	})
}

// DeleteTenant deletes a tenant and its archived traces and pull runs
// DELETE /api/tenants/:id
func (h *TenantHandler) DeleteTenant(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	err = h.tenantService.DeleteTenant(uint(tenantID), userID)
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to delete tenant",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Tenant deleted successfully",
	})
}

// ActivateTenant marks a tenant as active
// PUT /api/tenants/:id/activate
func (h *TenantHandler) ActivateTenant(c *gin.Context) {
	h.setActive(c, true)
}

// DeactivateTenant marks a tenant as inactive so pulls skip it
// PUT /api/tenants/:id/deactivate
func (h *TenantHandler) DeactivateTenant(c *gin.Context) {
	h.setActive(c, false)
}

func (h *TenantHandler) setActive(c *gin.Context, active bool) {
	userID, _ := middleware.GetUserIDFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	tenant, err := h.tenantService.SetTenantActive(uint(tenantID), userID, active)
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update tenant status",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.toTenantResponse(tenant),
	})
}

// TestConnection verifies a tenant's Microsoft 365 credentials
// POST /api/tenants/:id/test
func (h *TenantHandler) TestConnection(c *gin.Context) {
	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	result, err := h.tenantService.TestConnectionByID(c.Request.Context(), uint(tenantID))
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to test connection",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// DomainsResponse represents a tenant's owned domains and their freshness
type DomainsResponse struct {
	Domains            []string `json:"domains"`
	DomainsLastUpdated *int64   `json:"domains_last_updated"`
}

// GetDomains returns the tenant's owned domain set
// GET /api/tenants/:id/domains
func (h *TenantHandler) GetDomains(c *gin.Context) {
	tenant, ok := h.tenantFromPath(c)
	if !ok {
		return
	}

	response := DomainsResponse{Domains: tenant.OwnedDomains()}
	if tenant.DomainsLastUpdated != nil {
		updated := tenant.DomainsLastUpdated.Unix()
		response.DomainsLastUpdated = &updated
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

// SetDomainsRequest represents the request to replace the owned domain set
type SetDomainsRequest struct {
	Domains   []string `json:"domains" binding:"required"`
	Overwrite bool     `json:"overwrite"`
}

// SetDomains replaces the tenant's owned domain set manually
// PUT /api/tenants/:id/domains
func (h *TenantHandler) SetDomains(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	var req SetDomainsRequest
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

	tenant, err := h.tenantService.SetTenantDomains(uint(tenantID), userID, req.Domains, req.Overwrite)
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return
		}
		if errors.Is(err, services.ErrDomainsAlreadyConfigured) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Tenant already has domains configured; set overwrite to replace them",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to set domains",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.toTenantResponse(tenant),
	})
}

// DiscoverDomainsRequest represents the request to run domain discovery
type DiscoverDomainsRequest struct {
	Overwrite bool `json:"overwrite"`
}

// DiscoverDomains fetches the tenant's verified domains from Microsoft 365
// and stores them as the owned domain set
// POST /api/tenants/:id/discover
func (h *TenantHandler) DiscoverDomains(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return
	}

	// The body is optional; an absent one means overwrite=false
	var req DiscoverDomainsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
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

	domains, err := h.discoveryService.DiscoverDomains(c.Request.Context(), uint(tenantID), userID, req.Overwrite)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
		case errors.Is(err, services.ErrDomainsAlreadyConfigured):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Tenant already has domains configured; set overwrite to replace them",
				},
			})
		case errors.Is(err, ms365.ErrUnsupportedOperation):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "This tenant's access method cannot list verified domains",
				},
			})
		case errors.Is(err, ms365.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "PERMISSION_DENIED",
					"message": "The app registration is missing the permission to read domains",
					"details": err.Error(),
				},
			})
		case errors.Is(err, ms365.ErrAuthenticationFailed):
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": "Authentication against Microsoft 365 failed",
					"details": err.Error(),
				},
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "UPSTREAM_ERROR",
					"message": "Domain discovery failed",
					"details": err.Error(),
				},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"domains": domains,
			"count":   len(domains),
		},
	})
}

// tenantFromPath loads the tenant named by the :id path parameter, writing
// the error response itself when that fails.
func (h *TenantHandler) tenantFromPath(c *gin.Context) (*models.Tenant, bool) {
	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid tenant ID",
			},
		})
		return nil, false
	}

	tenant, err := h.tenantService.GetTenantByID(uint(tenantID))
	if err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Tenant not found",
				},
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve tenant",
			},
		})
		return nil, false
	}

	return tenant, true
}
