// Package config provides configuration loading and validation utilities for
// the couchview engine: environment-variable helpers in the same shape the
// teacher uses across its services, plus an EngineConfig file format for the
// settings a couchview deployment actually needs (storage path, default
// collation, document store wiring, logging).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// DocumentStoreKind selects which view.DocumentStore adapter the engine
// wires up at startup.
type DocumentStoreKind string

const (
	DocumentStoreMem    DocumentStoreKind = "mem"
	DocumentStoreKivik  DocumentStoreKind = "kivik"
)

// DocumentStoreConfig configures the DocumentStore collaborator.
type DocumentStoreConfig struct {
	Kind DocumentStoreKind `yaml:"kind"`
	DSN  string            `yaml:"dsn"`
	Name string            `yaml:"database"`
}

// EngineConfig is the couchview engine's full runtime configuration: where
// its bbolt index file lives, which DocumentStore to reach the documents
// through, and default collation and logging settings. DefaultCollation,
// LogLevel and LogFormat are loaded and validated but not applied: the
// CLI's built-in views set their own collation and the shared logger keeps
// its own level and format.
type EngineConfig struct {
	StoragePath      string               `yaml:"storage_path"`
	DefaultCollation string               `yaml:"default_collation"`
	LogLevel         string               `yaml:"log_level"`
	LogFormat        string               `yaml:"log_format"`
	DocumentStore    DocumentStoreConfig  `yaml:"document_store"`
}

// DefaultEngineConfig returns the configuration couchview runs with when
// nothing overrides it: a local bbolt file, Unicode collation, an in-memory
// document store and text logging at info level.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StoragePath:      "./couchview.db",
		DefaultCollation: "unicode",
		LogLevel:         "info",
		LogFormat:        "text",
		DocumentStore: DocumentStoreConfig{
			Kind: DocumentStoreMem,
		},
	}
}

// LoadEngineConfigFile reads and parses an EngineConfig from a YAML file,
// starting from DefaultEngineConfig so an omitted field keeps its default.
func LoadEngineConfigFile(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEngineConfigEnv overlays environment variables (prefixed COUCHVIEW_) on
// top of base, for deployments that prefer env vars over a config file.
func LoadEngineConfigEnv(base EngineConfig) EngineConfig {
	env := NewEnvConfig("COUCHVIEW")
	base.StoragePath = env.GetString("STORAGE_PATH", base.StoragePath)
	base.DefaultCollation = env.GetString("DEFAULT_COLLATION", base.DefaultCollation)
	base.LogLevel = env.GetString("LOG_LEVEL", base.LogLevel)
	base.LogFormat = env.GetString("LOG_FORMAT", base.LogFormat)
	if kind := env.GetString("DOCUMENT_STORE_KIND", string(base.DocumentStore.Kind)); kind != "" {
		base.DocumentStore.Kind = DocumentStoreKind(kind)
	}
	base.DocumentStore.DSN = env.GetString("DOCUMENT_STORE_DSN", base.DocumentStore.DSN)
	base.DocumentStore.Name = env.GetString("DOCUMENT_STORE_NAME", base.DocumentStore.Name)
	return base
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// ErrorString returns all validation errors as a single string
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// ValidateEngineConfig checks an EngineConfig for the fields the engine
// cannot start without.
func ValidateEngineConfig(cfg EngineConfig) error {
	v := NewValidator()
	v.RequireString("storage_path", cfg.StoragePath)
	v.RequireOneOf("default_collation", cfg.DefaultCollation, []string{"unicode", "ascii", "raw"})
	v.RequireOneOf("log_level", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.RequireOneOf("document_store.kind", string(cfg.DocumentStore.Kind), []string{string(DocumentStoreMem), string(DocumentStoreKivik)})
	if cfg.DocumentStore.Kind == DocumentStoreKivik {
		v.RequireString("document_store.dsn", cfg.DocumentStore.DSN)
		v.RequireString("document_store.database", cfg.DocumentStore.Name)
	}
	return v.Validate()
}
