package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for pibackup.
type Config struct {
	HostID   string         `toml:"host_id" json:"host_id" validate:"required"`
	BaseDir  string         `toml:"base_dir" json:"base_dir" validate:"required"`
	LogDir   string         `toml:"log_dir" json:"log_dir"`
	LogLevel string         `toml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Mounts   MountsConfig   `toml:"mounts" json:"mounts"`
	Backup   BackupConfig   `toml:"backup" json:"backup"`
	Database DatabaseConfig `toml:"database" json:"database"`
	Server   ServerConfig   `toml:"server" json:"server"`
}

// MountsConfig describes where removable volumes appear and which files
// mark their identity and roles.
type MountsConfig struct {
	BaseDir           string `toml:"base_dir" json:"base_dir" validate:"required"`
	SourceMarker      string `toml:"source_marker" json:"source_marker" validate:"required,excludesall=/"`
	DestinationMarker string `toml:"destination_marker" json:"destination_marker" validate:"required,excludesall=/,nefield=SourceMarker"`
	IdentityMarker    string `toml:"identity_marker" json:"identity_marker" validate:"required,excludesall=/,nefield=SourceMarker,nefield=DestinationMarker"`
	RescanSeconds     int    `toml:"rescan_interval_seconds" json:"rescan_interval_seconds" validate:"gte=0"` // 0 disables periodic rescans
}

// RescanInterval returns the periodic rescan interval, zero when disabled.
func (m MountsConfig) RescanInterval() time.Duration {
	return time.Duration(m.RescanSeconds) * time.Second
}

// BackupConfig controls how snapshots are named, hashed and executed.
type BackupConfig struct {
	SnapshotPrefix string   `toml:"snapshot_prefix" json:"snapshot_prefix" validate:"required,excludesall=/0123456789"`
	HashAlgorithm  string   `toml:"hash_algorithm" json:"hash_algorithm" validate:"oneof=sha256 xxhash"`
	Workers        int      `toml:"workers" json:"workers" validate:"gte=1,lte=16"`
	Exclude        []string `toml:"exclude" json:"exclude"` // extra patterns left out of the content hash
}

// DatabaseConfig represents configuration for the job history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" json:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" json:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen            string   `toml:"listen" json:"listen" validate:"required"`
	FilebrowserPort   int      `toml:"filebrowser_port" json:"filebrowser_port" validate:"gte=0,lte=65535"`
	FilebrowserPrefix string   `toml:"filebrowser_prefix" json:"filebrowser_prefix"`
	AllowedOrigins    []string `toml:"allowed_origins" json:"allowed_origins"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Mounts: MountsConfig{
			BaseDir:           "/media",
			SourceMarker:      ".backup_source",
			DestinationMarker: ".backup_dest",
			IdentityMarker:    ".disk_id",
			RescanSeconds:     30,
		},
		Backup: BackupConfig{
			SnapshotPrefix: "backup",
			HashAlgorithm:  "sha256",
			Workers:        2,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Server: ServerConfig{
			Listen:            ":5000",
			FilebrowserPort:   8080,
			FilebrowserPrefix: "/files",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
