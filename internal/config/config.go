// Package config loads, validates, and saves the operator-facing JSON
// configuration for actor (spec.md §6, "External Interfaces").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the operator configuration. Its five top-level keys are the
// External Interface's spec-mandated JSON keys; Logging is an ambient knob
// the distilled spec is silent on, riding along in the same file rather
// than forcing a second config surface.
type Config struct {
	MaxParallel      int    `json:"max_parallel"`
	InputDirectory   string `json:"input_directory"`
	WorkingDirectory string `json:"working_directory"`
	BackupsDirectory string `json:"backups_directory"`
	OutputDirectory  string `json:"output_directory"`

	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig mirrors the teacher's LoggingConfig field shape, translated
// from TOML tags to JSON tags.
type LoggingConfig struct {
	Level      string   `json:"level"`
	Format     string   `json:"format"`
	Output     []string `json:"output"`
	TimeFormat string   `json:"time_format"`
	MaxSizeMB  int      `json:"max_size_mb"`
	MaxBackups int      `json:"max_backups"`
	MaxAgeDays int      `json:"max_age_days"`
	Compress   bool     `json:"compress"`
}

// DefaultConfig returns the default configuration rooted at DefaultDataDir.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		MaxParallel:      5,
		InputDirectory:   filepath.Join(dataDir, "input"),
		WorkingDirectory: filepath.Join(dataDir, "working"),
		BackupsDirectory: filepath.Join(dataDir, "backups"),
		OutputDirectory:  filepath.Join(dataDir, "output"),
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"file", "stdout"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DefaultDataDir resolves the operator's default data directory, honoring
// XDG_DATA_HOME on Linux the way the teacher's DefaultDataDir did.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "actor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".actor")
}

// DefaultConfigPath is the default location `actor` looks for config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

// Load reads a JSON config file at path, expanding environment variables
// before parsing. A missing file yields the defaults, not an error, so a
// first run needs no pre-existing config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the keys the scheduler needs before it will accept work.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("config: max_parallel must be at least 1")
	}
	if c.InputDirectory == "" {
		return fmt.Errorf("config: input_directory is required")
	}
	if c.WorkingDirectory == "" {
		return fmt.Errorf("config: working_directory is required")
	}
	if c.BackupsDirectory == "" {
		return fmt.Errorf("config: backups_directory is required")
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("config: output_directory is required")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Logging.Output = append([]string(nil), c.Logging.Output...)
	return &clone
}

// LprocRoot is the derived directory LProc process records live under.
func (c *Config) LprocRoot() string {
	return filepath.Join(c.WorkingDirectory, ".lproc")
}

// ArchiveRoot is the derived directory an LProc's stdin/stdout/stderr files
// are moved into when the LProc is deleted (pkg/lproc Manager.Delete).
func (c *Config) ArchiveRoot() string {
	return filepath.Join(c.OutputDirectory, "archive")
}

// DangerousListPath is the derived path to the operator-maintained
// project-name ignore list (see pkg/dangerous).
func (c *Config) DangerousListPath() string {
	return filepath.Join(c.WorkingDirectory, "dangerous.json")
}

// LogPath is the path to actor's own service log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.WorkingDirectory, "logs", "actor.log")
}

// EnsureDirectories creates every directory the configuration names.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.InputDirectory,
		c.WorkingDirectory,
		c.BackupsDirectory,
		c.OutputDirectory,
		c.LprocRoot(),
		c.ArchiveRoot(),
		filepath.Dir(c.LogPath()),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory %q: %w", dir, err)
		}
	}
	return nil
}
