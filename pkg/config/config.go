// Package config provides configuration management for FaceSweep.
// It loads configuration from YAML files with sensible defaults and
// FACESWEEP_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvThreshold  = "FACESWEEP_THRESHOLD"
	EnvModelPath  = "FACESWEEP_MODEL_PATH"
	EnvDataDir    = "FACESWEEP_DATA_DIR"
	EnvEncryption = "FACESWEEP_ENCRYPTION"
	EnvOutputDir  = "FACESWEEP_OUTPUT_DIR"
	EnvHost       = "FACESWEEP_HOST"
	EnvPort       = "FACESWEEP_PORT"
	EnvLogLevel   = "FACESWEEP_LOG_LEVEL"
	EnvLogFile    = "FACESWEEP_LOG_FILE"
)

// Config holds all FaceSweep configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Report      ReportConfig      `yaml:"report"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `yaml:"-"`
}

// RecognitionConfig holds face detection and matching settings.
type RecognitionConfig struct {
	Threshold      float64 `yaml:"threshold"`
	ModelPath      string  `yaml:"model_path"`
	ExtractTimeout int     `yaml:"extract_timeout"` // seconds per image
	Label          string  `yaml:"label"`
}

// ReportConfig holds report export settings.
type ReportConfig struct {
	OutputDir  string  `yaml:"output_dir"`
	TileSizeMM float64 `yaml:"tile_size_mm"`
}

// StorageConfig holds reference profile storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// ServerConfig holds web UI settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Recognition: RecognitionConfig{
			Threshold:      0.6,
			ModelPath:      filepath.Join(homeDir, ".local/share/facesweep/models"),
			ExtractTimeout: 30,
			Label:          "Suspect",
		},
		Report: ReportConfig{
			OutputDir:  ".",
			TileSizeMM: 80,
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/facesweep"),
			EncryptionEnabled: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	config.Source = path
	return config, nil
}

// DefaultPaths returns the locations LoadDefault searches, in order.
func DefaultPaths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config/facesweep/facesweep.yaml"))
	}
	return append(paths, "/etc/facesweep/facesweep.yaml")
}

// LoadDefault loads the first existing file from DefaultPaths, or returns
// the defaults when there is none.
func LoadDefault() (*Config, error) {
	for _, p := range DefaultPaths() {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return DefaultConfig(), nil
}

// ApplyEnv overrides settings from FACESWEEP_* environment variables.
// An unparseable threshold is ignored with a warning; other unparseable
// numeric or boolean values are reported as errors.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			logging.Component("config").Warnf("Ignoring %s=%q, keeping threshold %v", EnvThreshold, v, c.Recognition.Threshold)
		} else {
			c.Recognition.Threshold = f
		}
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Recognition.ModelPath = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(EnvEncryption); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEncryption, err)
		}
		c.Storage.EncryptionEnabled = b
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Report.OutputDir = v
	}
	if v := os.Getenv(EnvHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = p
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Logging.File = v
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid. The threshold is not
// checked here: scans replace an out of range value with the default.
func (c *Config) Validate() error {
	if c.Recognition.ExtractTimeout <= 0 {
		return fmt.Errorf("extract_timeout must be positive, got %d", c.Recognition.ExtractTimeout)
	}
	if strings.TrimSpace(c.Recognition.Label) == "" {
		return fmt.Errorf("label must not be empty")
	}

	// Tiles are placed at a 10 mm margin on A4 paper.
	if c.Report.TileSizeMM <= 0 || c.Report.TileSizeMM > 190 {
		return fmt.Errorf("tile_size_mm must be in (0, 190], got %f", c.Report.TileSizeMM)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExtractTimeoutDuration returns the per-image extraction timeout.
func (c *Config) ExtractTimeoutDuration() time.Duration {
	return time.Duration(c.Recognition.ExtractTimeout) * time.Second
}

// Addr returns the host:port the web UI listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Report.OutputDir = ExpandPath(c.Report.OutputDir)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	if c.Logging.File != "" {
		c.Logging.File = ExpandPath(c.Logging.File)
	}
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.ProfilesDir(), 0700); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// ProfilesDir returns the directory holding enrolled reference profiles.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.Storage.DataDir, "profiles")
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
