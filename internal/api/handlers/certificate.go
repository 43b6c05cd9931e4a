package handlers

import (
	"errors"
	"net/http"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api/middleware"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/certstore"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/services"
	"github.com/gin-gonic/gin"
)

// CertificateHandler handles tenant auth certificate uploads
type CertificateHandler struct {
	store      *certstore.Store
	logService *services.LogService
}

// NewCertificateHandler creates a new CertificateHandler instance
func NewCertificateHandler(store *certstore.Store, logService *services.LogService) *CertificateHandler {
	return &CertificateHandler{
		store:      store,
		logService: logService,
	}
}

// UploadCertificate stores an uploaded certificate file and returns its
// stored path and SHA-1 thumbprint for use in a tenant configuration.
// POST /api/certificates
func (h *CertificateHandler) UploadCertificate(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	fileHeader, err := c.FormFile("certificate")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "A certificate file is required in the 'certificate' form field",
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to read uploaded file",
			},
		})
		return
	}
	defer file.Close()

	saved, err := h.store.SaveFromReader(fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		switch {
		case errors.Is(err, certstore.ErrUnsupportedFileType):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Unsupported certificate file type: use .pfx, .p12, .pem, .cer or .crt",
				},
			})
		case errors.Is(err, certstore.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Certificate file exceeds the 10 MB limit",
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Failed to store certificate",
				},
			})
		}
		return
	}

	h.logService.LogCertificateUploaded(userID, saved.Filename, saved.Size, saved.Thumbprint)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    saved,
	})
}

// ListCertificates returns the filenames of stored certificates
// GET /api/certificates
func (h *CertificateHandler) ListCertificates(c *gin.Context) {
	filenames, err := h.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to list certificates",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"certificates": filenames,
			"directory":    h.store.Dir(),
		},
	})
}
