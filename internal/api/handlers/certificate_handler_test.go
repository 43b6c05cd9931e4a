package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadCertificate(t *testing.T, fx *handlerFixture, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("certificate", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/certificates", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func TestUploadCertificate(t *testing.T) {
	fx := setupHandlerTest(t)

	content := []byte("-----BEGIN CERTIFICATE-----\nnot really a certificate\n-----END CERTIFICATE-----\n")
	w := uploadCertificate(t, fx, "app-cert.pem", content)
	require.Equal(t, http.StatusCreated, w.Code)

	data := dataObject(t, w)
	filename, _ := data["filename"].(string)
	assert.True(t, strings.HasSuffix(filename, ".pem"), "stored name keeps the extension: %q", filename)
	assert.Equal(t, float64(len(content)), data["size"])
	assert.NotEmpty(t, data["certificate_path"])

	// The stored file shows up in the listing
	w = fx.doJSON(t, http.MethodGet, "/api/certificates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listData := dataObject(t, w)
	files, ok := listData["certificates"].([]interface{})
	require.True(t, ok, "certificates should be a list")
	assert.Contains(t, files, filename)
	assert.NotEmpty(t, listData["directory"])
}

func TestUploadCertificateRejectsUnsupportedType(t *testing.T) {
	fx := setupHandlerTest(t)

	w := uploadCertificate(t, fx, "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestUploadCertificateRequiresFile(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.doJSON(t, http.MethodPost, "/api/certificates", map[string]string{"certificate": "inline"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}
