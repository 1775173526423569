// Package config loads and validates the YAML configuration for both CLI
// drivers, the way the teacher's internal/config/providers.go loads
// provider configuration: yaml.v3 into a typed struct, a Validate()
// method, wrapped errors at every boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig backs cmd/ragserver (spec.md §6.4 "Server driver").
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	Collection     string `yaml:"collection"`
	IndexEndpoint  string `yaml:"index_endpoint"`
	MinMatches     int    `yaml:"min_matches"`
	LogLevel       string `yaml:"log_level"`
	SchemaVersion  int    `yaml:"schema_version"`
	FeatureVersion string `yaml:"feature_version"`
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`

	// CacheAddr, when set, points the embedding/historical-read cache at a
	// Redis instance ("host:port"); empty keeps the process-local default
	// (SPEC_FULL.md §2.2 "Optional read-through cache").
	CacheAddr string        `yaml:"cache_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultServerConfig matches spec.md's documented defaults for the
// values a deployment would otherwise have to set explicitly.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           "7700",
		Collection:     "trading_patterns",
		MinMatches:     3,
		LogLevel:       "info",
		SchemaVersion:  1,
		FeatureVersion: "v1_nofx_3m4h",
		EmbeddingModel: "bge-small-en-v1.5",
		EmbeddingDim:   384,
		CacheTTL:       10 * time.Minute,
	}
}

// LoadServerConfig reads and validates a server config file, applying
// DefaultServerConfig for anything the file leaves at its zero value.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid server config: %w", err)
	}
	return cfg, nil
}

// Validate checks field invariants a malformed or hand-edited YAML file
// could violate; cobra flag overrides are applied by the caller before
// this runs (spec.md §6.4).
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if c.MinMatches < 1 {
		return fmt.Errorf("min_matches must be >= 1, got %d", c.MinMatches)
	}
	return nil
}

// IngestConfig backs cmd/ragingest (spec.md §6.4 "Ingest driver").
type IngestConfig struct {
	Symbols        []string `yaml:"symbols"`
	Start          string   `yaml:"start"`
	End            string   `yaml:"end"`
	CadenceMinutes int      `yaml:"cadence_minutes"`
	Collection     string   `yaml:"collection"`
	IndexEndpoint  string   `yaml:"index_endpoint"`
	DataSource     string   `yaml:"data_source"` // "mock" | "store"
	StorePath      string   `yaml:"store_path"`

	SchemaVersion  int    `yaml:"schema_version"`
	FeatureVersion string `yaml:"feature_version"`

	CacheAddr string        `yaml:"cache_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultIngestConfig matches spec.md §6.4's documented defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		CadenceMinutes: 15,
		Collection:     "trading_patterns",
		DataSource:     "mock",
		SchemaVersion:  1,
		CacheTTL:       time.Hour,
		FeatureVersion: "v1_nofx_3m4h",
	}
}

// LoadIngestConfig reads an ingest config file without validating it,
// applying DefaultIngestConfig for anything the file leaves at its zero value.
// Unlike LoadServerConfig, an empty path is not automatically valid here:
// symbols/start/end have no sane defaults, so the caller must supply them
// either via the file or via flag overrides before calling Validate.
func LoadIngestConfig(path string) (IngestConfig, error) {
	cfg := DefaultIngestConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return IngestConfig{}, fmt.Errorf("read ingest config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return IngestConfig{}, fmt.Errorf("parse ingest config: %w", err)
	}
	return cfg, nil
}

// Validate checks the field combinations spec.md §6.4 requires, in
// particular that store_path is set whenever data_source is "store".
func (c *IngestConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required")
	}
	if c.Start == "" || c.End == "" {
		return fmt.Errorf("start and end are both required")
	}
	if c.CadenceMinutes <= 0 {
		return fmt.Errorf("cadence_minutes must be positive, got %d", c.CadenceMinutes)
	}
	switch c.DataSource {
	case "mock":
	case "store":
		if c.StorePath == "" {
			return fmt.Errorf("store_path is required when data_source is \"store\"")
		}
	default:
		return fmt.Errorf("data_source must be \"mock\" or \"store\", got %q", c.DataSource)
	}
	return nil
}

// ParseTimeBound resolves spec.md §6.4's "ISO-8601 or integer 'days ago'"
// CLI time format to epoch milliseconds, relative to now.
func ParseTimeBound(raw string, now time.Time) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty time bound")
	}
	if days, err := strconv.Atoi(raw); err == nil {
		return now.AddDate(0, 0, -days).UnixMilli(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("not a valid ISO-8601 timestamp or integer day count: %q", raw)
	}
	return t.UnixMilli(), nil
}
