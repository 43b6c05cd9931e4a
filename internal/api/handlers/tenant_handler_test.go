package handlers

import (
	"net/http"
	"testing"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"empty secret stays empty", "", ""},
		{"short secret fully starred", "abc", "***"},
		{"eight chars fully starred", "abcdefgh", "********"},
		{"nine chars shows edges", "abcdefghi", "abcd****fghi"},
		{"long secret shows edges", "super-secret-value-42", "supe****e-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.secret))
		})
	}
}

func TestCreateTenantMasksSecret(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-contoso"))
	require.Equal(t, http.StatusCreated, w.Code)

	data := dataObject(t, w)
	assert.Equal(t, "Contoso", data["name"])
	assert.Equal(t, "tenant-contoso", data["tenant_id"])
	assert.Equal(t, "supe****e-42", data["client_secret_masked"])
	assert.Equal(t, true, data["is_active"])

	// The raw secret must never appear anywhere in the response
	assert.NotContains(t, w.Body.String(), "super-secret-value-42")

	// Stored ciphertext differs from the plaintext secret
	var tenant models.Tenant
	require.NoError(t, fx.db.First(&tenant, "tenant_id = ?", "tenant-contoso").Error)
	assert.NotEmpty(t, tenant.ClientSecretEncrypted)
	assert.NotContains(t, tenant.ClientSecretEncrypted, "super-secret-value-42")
}

func TestCreateTenantDuplicate(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-dup"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso Again", "tenant-dup"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, w))
}

func TestCreateTenantValidation(t *testing.T) {
	fx := setupHandlerTest(t)

	// Missing required client_id fails binding
	w := fx.doJSON(t, http.MethodPost, "/api/tenants", map[string]interface{}{
		"name":      "Broken",
		"tenant_id": "tenant-broken",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	// Unknown auth method is rejected by the service
	req := createTenantRequest("Broken", "tenant-broken")
	req.AuthMethod = "carrier-pigeon"
	w = fx.doJSON(t, http.MethodPost, "/api/tenants", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestGetTenantNotFound(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodGet, "/api/tenants/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))

	w = fx.doJSON(t, http.MethodGet, "/api/tenants/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestActivateDeactivateTenant(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-toggle"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := tenantIDFromResponse(t, dataObject(t, w))

	w = fx.doJSON(t, http.MethodPut, "/api/tenants/"+id+"/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataObject(t, w)["is_active"])

	w = fx.doJSON(t, http.MethodPut, "/api/tenants/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataObject(t, w)["is_active"])
}

func TestSetDomainsOverwriteGuard(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-domains"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := tenantIDFromResponse(t, dataObject(t, w))

	// Tenant was created owning contoso.com; replacing without overwrite is refused
	w = fx.doJSON(t, http.MethodPut, "/api/tenants/"+id+"/domains", SetDomainsRequest{
		Domains: []string{"fabrikam.com"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, w))

	w = fx.doJSON(t, http.MethodPut, "/api/tenants/"+id+"/domains", SetDomainsRequest{
		Domains:   []string{"fabrikam.com", "fabrikam.net"},
		Overwrite: true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.doJSON(t, http.MethodGet, "/api/tenants/"+id+"/domains", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataObject(t, w)
	domains, ok := data["domains"].([]interface{})
	require.True(t, ok, "domains should be a list")
	assert.ElementsMatch(t, []interface{}{"fabrikam.com", "fabrikam.net"}, domains)
	assert.NotNil(t, data["domains_last_updated"])
}

func TestUpdateTenantKeepsSecretWhenOmitted(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-update"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := tenantIDFromResponse(t, dataObject(t, w))

	w = fx.doJSON(t, http.MethodPut, "/api/tenants/"+id, UpdateTenantRequest{Name: "Contoso Ltd"})
	require.Equal(t, http.StatusOK, w.Code)
	data := dataObject(t, w)
	assert.Equal(t, "Contoso Ltd", data["name"])

	// The stored secret survives an update that does not send one
	assert.Equal(t, "supe****e-42", data["client_secret_masked"])
}

func TestDeleteTenant(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest("Contoso", "tenant-delete"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := tenantIDFromResponse(t, dataObject(t, w))

	w = fx.doJSON(t, http.MethodDelete, "/api/tenants/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.doJSON(t, http.MethodGet, "/api/tenants/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.doJSON(t, http.MethodDelete, "/api/tenants/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTenants(t *testing.T) {
	fx := setupHandlerTest(t)

	for _, name := range []string{"alpha", "beta"} {
		w := fx.doJSON(t, http.MethodPost, "/api/tenants", createTenantRequest(name, "tenant-"+name))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := fx.doJSON(t, http.MethodGet, "/api/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	list, ok := body["data"].([]interface{})
	require.True(t, ok, "data should be a list")
	assert.Len(t, list, 2)
}
