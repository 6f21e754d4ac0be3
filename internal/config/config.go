// Package config handles configuration loading, validation, and management
// for the worklog engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"worklog/internal/codec"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version"`

	// Security configuration binding the log to one student.
	Security SecurityConfig `toml:"security" json:"security"`

	// Session configuration for aggregation and autosave policy.
	Session SessionConfig `toml:"session" json:"session"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// SecurityConfig holds the cryptographic binding for the session log.
type SecurityConfig struct {
	// SharedSecret is the classroom secret. Prefer the WORKLOG_SHARED_SECRET
	// environment variable over putting it in the file.
	SharedSecret string `toml:"shared_secret" json:"-"`

	// StudentID identifies the student the log is bound to.
	StudentID string `toml:"student_id" json:"student_id"`

	// Mode is the cipher mode: "AEAD" (default) or "XOR" (degraded).
	Mode string `toml:"mode" json:"mode"`
}

// SessionConfig holds activity aggregation and autosave policy.
type SessionConfig struct {
	// IdleThresholdSec is the merge/sweep window for pending entries.
	IdleThresholdSec int `toml:"idle_threshold_sec" json:"idle_threshold_sec"`

	// AutosaveIntervalSec is the debounce interval for persisting a dirty
	// chain from the periodic tick.
	AutosaveIntervalSec int `toml:"autosave_interval_sec" json:"autosave_interval_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the primary store backend: "sqlite" or "memory".
	Type string `toml:"type" json:"type"`

	// DocumentPath is the host document location; it keys the recovery file
	// and, for sqlite, derives the slot database path.
	DocumentPath string `toml:"document_path" json:"document_path"`

	// StateDir is where slot databases and recovery files live.
	StateDir string `toml:"state_dir" json:"state_dir"`

	// RecoveryEnabled toggles the external crash-recovery file.
	RecoveryEnabled bool `toml:"recovery_enabled" json:"recovery_enabled"`
}

// LoggingConfig holds diagnostic logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Security: SecurityConfig{
			Mode: string(codec.ModeAuthenticated),
		},
		Session: SessionConfig{
			IdleThresholdSec:    60,
			AutosaveIntervalSec: 5,
		},
		Storage: StorageConfig{
			Type:            "sqlite",
			StateDir:        dir,
			RecoveryEnabled: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "file",
			FilePath: filepath.Join(dir, "worklog.log"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file yields
// the defaults; a malformed one is an error. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Security.SharedSecret == "" {
		errs = append(errs, errors.New("security.shared_secret is required (or set WORKLOG_SHARED_SECRET)"))
	}
	if c.Security.StudentID == "" {
		errs = append(errs, errors.New("security.student_id is required"))
	}
	if !codec.Mode(c.Security.Mode).Valid() {
		errs = append(errs, fmt.Errorf("security.mode: unknown mode %q", c.Security.Mode))
	}
	if c.Session.IdleThresholdSec <= 0 {
		errs = append(errs, errors.New("session.idle_threshold_sec must be positive"))
	}
	if c.Session.AutosaveIntervalSec <= 0 {
		errs = append(errs, errors.New("session.autosave_interval_sec must be positive"))
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown backend %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

// SecurityContext builds the codec security context from the configuration.
func (c *Config) SecurityContext() codec.SecurityContext {
	return codec.SecurityContext{
		SharedSecret: c.Security.SharedSecret,
		StudentID:    c.Security.StudentID,
		Mode:         codec.Mode(c.Security.Mode),
	}
}

// IdleThreshold returns the aggregation window as a duration.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Session.IdleThresholdSec) * time.Second
}

// AutosaveInterval returns the autosave debounce as a duration.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Session.AutosaveIntervalSec) * time.Second
}

// EnsureDirectories creates the directories the engine writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.StateDir,
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DataDir returns the base worklog directory. WORKLOG_DATA_DIR overrides the
// platform default.
func DataDir() string {
	if envDir := os.Getenv("WORKLOG_DATA_DIR"); envDir != "" {
		return envDir
	}
	return platformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with WORKLOG_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WORKLOG_SHARED_SECRET"); v != "" {
		c.Security.SharedSecret = v
	}
	if v := os.Getenv("WORKLOG_STUDENT_ID"); v != "" {
		c.Security.StudentID = v
	}
	if v := os.Getenv("WORKLOG_MODE"); v != "" {
		c.Security.Mode = v
	}
	if v := os.Getenv("WORKLOG_STATE_DIR"); v != "" {
		c.Storage.StateDir = v
	}
	if v := os.Getenv("WORKLOG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func platformDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "worklog")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "worklog")
		}
		return filepath.Join(home, "worklog")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "worklog")
		}
		return filepath.Join(home, ".local", "share", "worklog")
	}
}
