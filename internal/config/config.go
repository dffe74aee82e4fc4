// Package config reads and writes the crystal.toml file that configures a
// project's scheduler, download pipeline, and log location, the same
// Manager.Read/Write/Init idiom the teacher uses for its own app config.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is a project's crystal.toml. Values here seed a freshly created
// project's properties and configure the scheduler/download pipeline for
// every open of that project; they are distinct from the per-project
// properties stored in the project database, which travel with the project
// once created rather than with the machine opening it.
type Config struct {
	LogDir    string          `toml:"log_dir"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Download  DownloadConfig  `toml:"download"`
	Defaults  ProjectDefaults `toml:"defaults"`
}

// SchedulerConfig controls the worker pool and the politeness gate (a
// per-page minimum delay plus an aggregate items/sec cap).
type SchedulerConfig struct {
	WorkerCount           int   `toml:"worker_count"`
	PolitenessDelayMS     int64 `toml:"politeness_delay_ms"`
	MaxAggregatePerSecond int   `toml:"max_aggregate_per_second"`
}

// DownloadConfig controls the HTTP client the download pipeline builds.
type DownloadConfig struct {
	UserAgent                 string `toml:"user_agent"`
	MaxBodySizeBytes          int64  `toml:"max_body_size_bytes"`
	FirstByteTimeoutMS        int64  `toml:"first_byte_timeout_ms"`
	StallTimeoutMS            int64  `toml:"stall_timeout_ms"`
	SessionFreshWindowMinutes int64  `toml:"session_fresh_window_minutes"`
	AssumeFreshThisSession    bool   `toml:"assume_fresh_this_session"`
}

// ProjectDefaults seed a newly created project's stored properties.
// HTMLParserType is "basic" or "soup"; EntityTitleFormat is "url_name" or
// "name_url".
type ProjectDefaults struct {
	HTMLParserType    string `toml:"html_parser_type"`
	EntityTitleFormat string `toml:"entity_title_format"`
	DefaultURLPrefix  string `toml:"default_url_prefix"`
}

// Default returns the configuration a new project starts with absent an
// existing crystal.toml.
func Default(logDir string) *Config {
	return &Config{
		LogDir: logDir,
		Scheduler: SchedulerConfig{
			WorkerCount:           4,
			PolitenessDelayMS:     1000,
			MaxAggregatePerSecond: 2,
		},
		Download: DownloadConfig{
			UserAgent:                 "CrystalArchiver/1.0",
			FirstByteTimeoutMS:        10_000,
			StallTimeoutMS:            30_000,
			SessionFreshWindowMinutes: 60,
			AssumeFreshThisSession:    true,
		},
		Defaults: ProjectDefaults{
			HTMLParserType:    "basic",
			EntityTitleFormat: "url_name",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r, filling any field a partial file omits
// with Default's value for a project rooted at dir.
func (m *Manager) Read(r io.Reader, dir string) (*Config, error) {
	cfg := Default(filepath.Join(dir, "log"))
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path, rooted at
// dir (the project directory the file lives alongside).
func ReadFromFile(path, dir string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, dir)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new crystal.toml at path with cfg, refusing to
// overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
