package certstore

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"
)

var (
	// ErrUnsupportedFileType indicates the uploaded file has a disallowed extension
	ErrUnsupportedFileType = errors.New("unsupported certificate file type")
	// ErrFileTooLarge indicates the uploaded file exceeds the size limit
	ErrFileTooLarge = errors.New("certificate file too large")
	// ErrFileNotFound indicates the requested certificate file was not found
	ErrFileNotFound = errors.New("certificate file not found")
	// ErrFileWriteFailed indicates the certificate could not be stored
	ErrFileWriteFailed = errors.New("failed to write certificate file")
	// ErrFileReadFailed indicates the certificate could not be read back
	ErrFileReadFailed = errors.New("failed to read certificate file")
	// ErrPathOutsideStore indicates a path does not resolve into the store directory
	ErrPathOutsideStore = errors.New("path is outside the certificate store")
	// ErrNoCertificate indicates no parseable certificate was found in the data
	ErrNoCertificate = errors.New("no certificate found in file")
)

// MaxFileSize bounds uploaded certificate files.
const MaxFileSize = 10 * 1024 * 1024

// allowedExtensions are the certificate formats accepted for upload.
var allowedExtensions = map[string]bool{
	".pfx": true,
	".pem": true,
	".cer": true,
	".crt": true,
	".p12": true,
}

// Store manages tenant authentication certificates on disk. Files are stored
// under generated names with owner-only permissions; the original filename
// only contributes its extension.
type Store struct {
	dir string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// SavedCertificate describes a stored certificate file.
type SavedCertificate struct {
	Path       string `json:"certificate_path"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Thumbprint string `json:"certificate_thumbprint,omitempty"`
}

// Save stores certificate content under a generated filename and returns the
// stored path plus the SHA-1 thumbprint when one could be computed. The
// thumbprint is best effort: password-protected bundles yield none.
func (s *Store) Save(originalName string, content []byte) (*SavedCertificate, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if len(content) > MaxFileSize {
		return nil, fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, MaxFileSize/(1024*1024))
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	filename := generateFilename(ext)
	path := filepath.Join(s.dir, filename)

	if err := os.WriteFile(path, content, 0600); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	saved := &SavedCertificate{
		Path:     path,
		Filename: filename,
		Size:     int64(len(content)),
	}
	if thumbprint, err := Thumbprint(content, ext); err == nil {
		saved.Thumbprint = thumbprint
	}
	return saved, nil
}

// SaveFromReader stores a certificate streamed from reader. declaredSize is
// checked up front so oversized uploads are rejected before reading.
func (s *Store) SaveFromReader(originalName string, declaredSize int64, reader io.Reader) (*SavedCertificate, error) {
	if declaredSize > MaxFileSize {
		return nil, fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, MaxFileSize/(1024*1024))
	}

	content, err := io.ReadAll(io.LimitReader(reader, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}
	return s.Save(originalName, content)
}

// Get reads a stored certificate by filename.
func (s *Store) Get(filename string) ([]byte, error) {
	path := filepath.Join(s.dir, filepath.Base(filename))
	if err := s.ValidatePath(path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}
	return content, nil
}

// Delete removes a stored certificate. Deleting a missing file is not an
// error.
func (s *Store) Delete(filename string) error {
	path := filepath.Join(s.dir, filepath.Base(filename))
	if err := s.ValidatePath(path); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}
	return nil
}

// List returns the filenames of all stored certificates.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// ValidatePath checks that path resolves inside the store directory. Tenant
// records carry certificate paths as plain strings, so every file access
// re-validates containment.
func (s *Store) ValidatePath(path string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return ErrPathOutsideStore
	}
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return ErrPathOutsideStore
	}

	if absPath == absDir {
		return ErrPathOutsideStore
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return ErrPathOutsideStore
	}
	return nil
}

// Thumbprint computes the uppercase hex SHA-1 fingerprint of the certificate
// in data. PKCS#12 bundles are tried without a password; protected bundles
// return an error and the caller treats the thumbprint as unavailable.
func Thumbprint(data []byte, ext string) (string, error) {
	cert, err := parseAnyCertificate(data, strings.ToLower(ext))
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

func parseAnyCertificate(data []byte, ext string) (*x509.Certificate, error) {
	if ext == ".pfx" || ext == ".p12" {
		_, cert, err := pkcs12.Decode(data, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificate, err.Error())
		}
		return cert, nil
	}

	// PEM first, then raw DER.
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrNoCertificate, err.Error())
			}
			return cert, nil
		}
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCertificate, err.Error())
	}
	return cert, nil
}

// generateFilename builds a unique stored name keeping only the extension of
// the upload.
func generateFilename(ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "cert_" + id + ext
}
