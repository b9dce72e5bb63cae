package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cyx-sec/cyx/pkg/models"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user config and cache directories.
const AppName = "cyx"

// Provider identifies the LLM backend answering queries.
type Provider string

const (
	ProviderPerplexity Provider = "perplexity"
	ProviderGroq       Provider = "groq"
	ProviderOllama     Provider = "ollama"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderPerplexity, ProviderGroq, ProviderOllama:
		return true
	}
	return false
}

// Config holds all cyx configuration.
type Config struct {
	Provider Provider    `yaml:"provider"`
	Model    string      `yaml:"model"`
	Cache    CacheConfig `yaml:"cache"`
}

// CacheConfig controls the query cache.
type CacheConfig struct {
	Enabled             bool                       `yaml:"enabled"`
	Dir                 string                     `yaml:"dir"`
	TTLDays             int                        `yaml:"ttl_days"`
	SimilarityThreshold float32                    `yaml:"similarity_threshold"`
	EmbeddingDimensions int                        `yaml:"embedding_dimensions"`
	DataDirs            []string                   `yaml:"data_dirs"`
	Normalization       models.NormalizationConfig `yaml:"normalization"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderGroq,
		Cache: CacheConfig{
			Enabled:             true,
			Dir:                 DefaultCacheDir(),
			TTLDays:             30,
			SimilarityThreshold: 0.80,
			EmbeddingDimensions: 256,
			Normalization:       models.DefaultNormalizationConfig(),
		},
	}
}

// DefaultCacheDir returns the per-user cache directory for cyx, or a relative
// fallback when the platform has none.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(dir, AppName)
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return AppName + ".yaml"
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("invalid config: unknown provider %q", c.Provider)
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("invalid config: cache.dir is empty")
	}
	if c.Cache.TTLDays < 0 {
		return fmt.Errorf("invalid config: cache.ttl_days must not be negative, got %d", c.Cache.TTLDays)
	}
	if t := c.Cache.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("invalid config: cache.similarity_threshold must be in (0, 1], got %v", t)
	}
	if c.Cache.EmbeddingDimensions <= 0 {
		return fmt.Errorf("invalid config: cache.embedding_dimensions must be positive, got %d", c.Cache.EmbeddingDimensions)
	}
	return nil
}

// DataDirCandidates lists the directories searched for lexicon files, in
// priority order: configured dirs, then the data directory next to the
// executable, then ./data, then the per-user config directory.
func (c *Config) DataDirCandidates() []string {
	dirs := append([]string(nil), c.Cache.DataDirs...)
	if exe, err := os.Executable(); err == nil {
		base := filepath.Dir(exe)
		dirs = append(dirs,
			filepath.Join(base, "data"),
			filepath.Join(base, "..", "share", AppName, "data"),
		)
	}
	dirs = append(dirs, "data")
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, AppName, "data"))
	}
	return dirs
}
