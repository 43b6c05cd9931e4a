// Package config resolves runtime settings from built-in defaults, an
// optional config.json, and ETA_-prefixed environment variables, in
// ascending priority.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	DatabasePath  string `json:"database_path"`
	APIPort       string `json:"api_port"`
	LogLevel      string `json:"log_level"`
	DataDir       string `json:"data_dir"`
	CertsDir      string `json:"certs_dir"` // certificate upload directory, empty means DataDir/certs
	JWTSecret     string `json:"jwt_secret"`
	EncryptionKey string `json:"encryption_key"` // key for tenant secret encryption, empty derives from JWTSecret
	CORSOrigins   string `json:"cors_origins"`   // comma-separated allowed origins, * for all

	// Microsoft 365 access
	TracePageSize      int `json:"trace_page_size"`      // records per page requested from the trace API
	HTTPTimeoutSeconds int `json:"http_timeout_seconds"` // timeout for outbound Graph calls
	LookbackDays       int `json:"lookback_days"`        // default pull window when no range is given
}

// DefaultJWTSecret signs tokens when no secret is configured. Deployments
// must replace it; "config init" writes a random one.
const DefaultJWTSecret = "exo-trace-default-secret-change-in-production"

const envPrefix = "ETA_"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DatabasePath:       "data/exo_trace.db",
		APIPort:            "8080",
		LogLevel:           "INFO",
		DataDir:            "data",
		JWTSecret:          DefaultJWTSecret,
		CORSOrigins:        "*",
		TracePageSize:      1000,
		HTTPTimeoutSeconds: 60,
		LookbackDays:       1,
	}
}

// Load resolves the effective configuration. A missing config file is
// fine; a malformed one is not.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadFromFile reads the first config.json found in the working
// directory or the data directory.
func (c *Config) loadFromFile() error {
	for _, path := range []string{"config.json", filepath.Join(c.DataDir, "config.json")} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return json.Unmarshal(data, c)
	}
	return nil
}

// applyEnv overrides fields from ETA_* variables. Unset and empty
// variables leave the field alone; integer variables must parse as a
// positive number or they are ignored.
func (c *Config) applyEnv() {
	for _, v := range []struct {
		suffix string
		field  *string
	}{
		{"DATABASE_PATH", &c.DatabasePath},
		{"API_PORT", &c.APIPort},
		{"LOG_LEVEL", &c.LogLevel},
		{"DATA_DIR", &c.DataDir},
		{"CERTS_DIR", &c.CertsDir},
		{"JWT_SECRET", &c.JWTSecret},
		{"ENCRYPTION_KEY", &c.EncryptionKey},
		{"CORS_ORIGINS", &c.CORSOrigins},
	} {
		if val := os.Getenv(envPrefix + v.suffix); val != "" {
			*v.field = val
		}
	}

	for _, v := range []struct {
		suffix string
		field  *int
	}{
		{"TRACE_PAGE_SIZE", &c.TracePageSize},
		{"HTTP_TIMEOUT_SECONDS", &c.HTTPTimeoutSeconds},
		{"LOOKBACK_DAYS", &c.LookbackDays},
	} {
		val := os.Getenv(envPrefix + v.suffix)
		if val == "" {
			continue
		}
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			*v.field = n
		}
	}
}

// GetCertsDir returns the base directory for uploaded certificates
// If CertsDir is set, use it; otherwise use DataDir/certs
func (c *Config) GetCertsDir() string {
	if c.CertsDir != "" {
		return c.CertsDir
	}
	return filepath.Join(c.DataDir, "certs")
}

// GetEncryptionKey returns the key used to encrypt tenant secrets
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	if c.EncryptionKey != "" {
		// SHA-256 guarantees a 32-byte key
		hash := sha256.Sum256([]byte(c.EncryptionKey))
		return hash[:]
	}
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
