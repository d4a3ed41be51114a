// Package config loads and validates the resolved EchoVault configuration.
//
// Precedence, increasing: hardcoded defaults, user config
// (~/.config/echovault/config.yaml), project config (.echovault.yaml in the
// working directory), environment variables (ECHOVAULT_*). Only the
// resolved Config value is part of the core's contract; the on-disk YAML
// format is not (spec.md §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete resolved EchoVault configuration.
type Config struct {
	VaultPath     string            `yaml:"vault_path" json:"vault_path"`
	SetupComplete bool              `yaml:"setup_complete" json:"setup_complete"`
	Sync          SyncConfig        `yaml:"sync" json:"sync"`
	Embedding     EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	Logging       LoggingConfig     `yaml:"logging" json:"logging"`
	Performance   PerformanceConfig `yaml:"performance" json:"performance"`
}

// SyncConfig names the cloud replica used by the replication driver's
// external file-mirror (spec.md §6 cloud transport contract).
type SyncConfig struct {
	// Provider identifies the mirror backend, e.g. "rclone".
	Provider string `yaml:"provider" json:"provider"`
	// FolderName is the remote subtree name the mirror pulls/pushes under.
	FolderName string `yaml:"folder_name" json:"folder_name"`
	// IntervalSeconds is the background daemon's sync tick cadence.
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
}

// EmbeddingConfig configures the embedder client and the chunker that
// feeds it (spec.md §4.5, §4.6, §6).
type EmbeddingConfig struct {
	APIBase      string `yaml:"api_base" json:"api_base"`
	APIKey       string `yaml:"api_key" json:"api_key"`
	Model        string `yaml:"model" json:"model"`
	ChunkSize    int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	MinChunkSize int    `yaml:"min_chunk_size" json:"min_chunk_size"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
}

// LoggingConfig configures the ambient structured logger.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// PerformanceConfig configures the worker pool used by the ingest
// coordinator and the embedding pass (spec.md §5, §9).
type PerformanceConfig struct {
	// Workers is the size of the blocking-I/O worker pool. Zero means
	// auto-detect as max(1, ncpus-2).
	Workers int `yaml:"workers" json:"workers"`
}

// NewConfig returns a Config populated with the spec's documented defaults.
func NewConfig() *Config {
	return &Config{
		VaultPath:     defaultVaultPath(),
		SetupComplete: false,
		Sync: SyncConfig{
			Provider:        "rclone",
			FolderName:      "echovault",
			IntervalSeconds: 300,
		},
		Embedding: EmbeddingConfig{
			APIBase:      "http://localhost:11434/v1",
			APIKey:       "",
			Model:        "nomic-embed-text",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MinChunkSize: 50,
			BatchSize:    32,
		},
		Logging: LoggingConfig{
			Level:         "info",
			WriteToStderr: true,
		},
		Performance: PerformanceConfig{
			Workers: defaultWorkers(),
		},
	}
}

// defaultWorkers implements the ncpus-2 headroom rule of spec.md §5/§9.
func defaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".echovault", "vault")
	}
	return filepath.Join(home, ".echovault", "vault")
}

// GetUserConfigPath returns the path to the user/global configuration file,
// honoring XDG_CONFIG_HOME when set.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "echovault", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "echovault", "config.yaml")
	}
	return filepath.Join(home, ".config", "echovault", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// GetUserConfigDir returns the directory containing the user/global
// configuration file.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// loadUserConfig loads the user/global config file, if present.
// A missing file is not an error: nil, nil is returned.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves configuration for the process, applying (in order of
// increasing precedence) defaults, the user config file, the project
// config file (.echovault.yaml under dir), and ECHOVAULT_* env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .echovault.yaml or .echovault.yml from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".echovault.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".echovault.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields of other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.VaultPath != "" {
		c.VaultPath = other.VaultPath
	}
	if other.SetupComplete {
		c.SetupComplete = other.SetupComplete
	}

	if other.Sync.Provider != "" {
		c.Sync.Provider = other.Sync.Provider
	}
	if other.Sync.FolderName != "" {
		c.Sync.FolderName = other.Sync.FolderName
	}
	if other.Sync.IntervalSeconds != 0 {
		c.Sync.IntervalSeconds = other.Sync.IntervalSeconds
	}

	if other.Embedding.APIBase != "" {
		c.Embedding.APIBase = other.Embedding.APIBase
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.ChunkSize != 0 {
		c.Embedding.ChunkSize = other.Embedding.ChunkSize
	}
	if other.Embedding.ChunkOverlap != 0 {
		c.Embedding.ChunkOverlap = other.Embedding.ChunkOverlap
	}
	if other.Embedding.MinChunkSize != 0 {
		c.Embedding.MinChunkSize = other.Embedding.MinChunkSize
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}

	if other.Performance.Workers != 0 {
		c.Performance.Workers = other.Performance.Workers
	}
}

// applyEnvOverrides applies ECHOVAULT_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ECHOVAULT_VAULT_PATH"); v != "" {
		c.VaultPath = v
	}
	if v := os.Getenv("ECHOVAULT_SYNC_PROVIDER"); v != "" {
		c.Sync.Provider = v
	}
	if v := os.Getenv("ECHOVAULT_SYNC_FOLDER"); v != "" {
		c.Sync.FolderName = v
	}
	if v := os.Getenv("ECHOVAULT_SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.IntervalSeconds = n
		}
	}
	if v := os.Getenv("ECHOVAULT_EMBEDDING_API_BASE"); v != "" {
		c.Embedding.APIBase = v
	}
	if v := os.Getenv("ECHOVAULT_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("ECHOVAULT_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("ECHOVAULT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.ChunkSize = n
		}
	}
	if v := os.Getenv("ECHOVAULT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Embedding.ChunkOverlap = n
		}
	}
	if v := os.Getenv("ECHOVAULT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSize = n
		}
	}
	if v := os.Getenv("ECHOVAULT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ECHOVAULT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.Workers = n
		}
	}
}

// Validate checks invariants the rest of the core relies on.
func (c *Config) Validate() error {
	if c.Embedding.ChunkSize <= 0 {
		return fmt.Errorf("embedding.chunk_size must be positive, got %d", c.Embedding.ChunkSize)
	}
	if c.Embedding.ChunkOverlap < 0 {
		return fmt.Errorf("embedding.chunk_overlap must be non-negative, got %d", c.Embedding.ChunkOverlap)
	}
	if c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		return fmt.Errorf("embedding.chunk_overlap (%d) must be less than chunk_size (%d)", c.Embedding.ChunkOverlap, c.Embedding.ChunkSize)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML persists the configuration as YAML to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, if present.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
