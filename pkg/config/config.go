// Package config loads the audithelpers YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MaxBush6299/audithelpers/pkg/element"
	"github.com/MaxBush6299/audithelpers/pkg/logging"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "audithelpers.yaml"

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// ErrUnknownBackend is returned for a storage backend other than file,
// sqlite or none.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Config is the full configuration file.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Matching MatchingConfig `yaml:"matching"`
	Output   OutputConfig   `yaml:"output"`
	Storage  StorageConfig  `yaml:"storage"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MatchingConfig tunes registry building and matching.
type MatchingConfig struct {
	Workers         int    `yaml:"workers"`
	CollisionPolicy string `yaml:"collision_policy"`
	UnicodeFold     bool   `yaml:"unicode_fold"`
	Generator       string `yaml:"generator"`
}

// OutputConfig controls the written document.
type OutputConfig struct {
	IncludeFullText bool `yaml:"include_full_text"`
}

// StorageConfig selects where run history is kept.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Matching: MatchingConfig{
			Workers:         1,
			CollisionPolicy: string(element.CollisionOverwrite),
			UnicodeFold:     true,
			Generator:       "audithelpers",
		},
		Output:  OutputConfig{IncludeFullText: true},
		Storage: StorageConfig{Backend: BackendFile, Path: ".audithelpers/runs"},
	}
}

// Load reads path over the defaults, so keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when given. With an empty path it reads
// DefaultPath if that file exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath)
	}
	return Default(), nil
}

// Validate checks every enumerated value.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	if c.Matching.Workers < 0 {
		return fmt.Errorf("matching.workers must not be negative, got %d", c.Matching.Workers)
	}
	if _, err := element.ParseCollisionPolicy(c.Matching.CollisionPolicy); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}
	return nil
}

// CollisionPolicy returns the parsed registry collision policy.
func (c *Config) CollisionPolicy() element.CollisionPolicy {
	policy, err := element.ParseCollisionPolicy(c.Matching.CollisionPolicy)
	if err != nil {
		return element.CollisionOverwrite
	}
	return policy
}
