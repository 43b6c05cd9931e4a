package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// APIKeyHeader carries the deployment key on every API request.
const APIKeyHeader = "X-API-Key"

// APIKeyLength is the number of random bytes behind a key. The stored
// form is the hex encoding, twice as long.
const APIKeyLength = 32

const keyFileName = "api.key"

// APIKeyManager owns the single deployment-wide API key. The key lives
// in a 0600 file under the data directory so it survives restarts, and
// in memory for per-request checks.
type APIKeyManager struct {
	mu   sync.RWMutex
	path string
	key  string
}

// NewAPIKeyManager loads the key from dataDir, minting and persisting a
// fresh one on first run.
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	m := &APIKeyManager{path: filepath.Join(dataDir, keyFileName)}

	raw, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		m.key = strings.TrimSpace(string(raw))
		if m.key != "" {
			return m, nil
		}
		// An empty file counts as a missing one.
		fallthrough
	case os.IsNotExist(err):
		if _, err := m.rotate(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("failed to read API key file: %w", err)
	}
}

// GetCurrentKey returns the active key.
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// ValidateKey reports whether the presented key matches the active one.
// The comparison is constant time.
func (m *APIKeyManager) ValidateKey(presented string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if presented == "" || m.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.key), []byte(presented)) == 1
}

// ResetKey replaces the active key with a fresh one and returns it.
// Clients still holding the old key are cut off on their next request.
func (m *APIKeyManager) ResetKey() (string, error) {
	return m.rotate()
}

func (m *APIKeyManager) rotate() (string, error) {
	buf := make([]byte, APIKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(key), 0o600); err != nil {
		return "", fmt.Errorf("failed to save API key: %w", err)
	}

	m.mu.Lock()
	m.key = key
	m.mu.Unlock()
	return key, nil
}
