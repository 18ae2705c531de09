package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for mb.
type Config struct {
	LibraryRoot string     `toml:"library_root"` // root containing one folder per creator
	DataDir     string     `toml:"data_dir"`     // holds global.db
	LogDir      string     `toml:"log_dir"`
	ListenAddr  string     `toml:"listen_addr"`
	Scan        ScanConfig `toml:"scan"`
}

// ScanConfig holds the scan lifecycle tunables, all in seconds except the
// worker count.
type ScanConfig struct {
	IntervalSeconds  int `toml:"interval_seconds"`  // advertised sync interval
	FreshnessSeconds int `toml:"freshness_seconds"` // skip sources modified more recently
	LockTTLSeconds   int `toml:"lock_ttl_seconds"`  // locks older than this are abandoned
	Workers          int `toml:"workers"`           // concurrent creator syncs per scan run
}

// NewConfig creates a Config with the provided paths and default scan tunables.
func NewConfig(libraryRoot, baseDir string) *Config {
	return &Config{
		LibraryRoot: libraryRoot,
		DataDir:     filepath.Join(baseDir, "db"),
		LogDir:      filepath.Join(baseDir, "log"),
		ListenAddr:  "127.0.0.1:8480",
		Scan: ScanConfig{
			IntervalSeconds:  3600,
			FreshnessSeconds: 300,
			LockTTLSeconds:   600,
			Workers:          3,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

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

// Init initializes a new config file at the specified path with the provided
// Config. Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
