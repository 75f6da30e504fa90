package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // assistant.timezone must resolve on hosts without zoneinfo
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Remote    RemoteConfig
	Assistant AssistantConfig
	Identity  IdentityConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// RateLimit is requests per second per user; zero disables limiting.
	RateLimit float64
	RateBurst int
	APIToken  string
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

type StorageConfig struct {
	Backend      string
	DataDir      string
	SnapshotFile string
}

type RemoteConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	HistoryTurns int
}

type AssistantConfig struct {
	ChunkSize   int
	PacingDelay time.Duration
	Timezone    string
}

// IdentityConfig is the viewer used by the MCP server and by CLI requests.
type IdentityConfig struct {
	UserID       string
	TenantID     string
	DepartmentID string
	Role         string
	Departments  []string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 5,
			RateBurst: 10,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: defaultDataDir(),
		},
		Remote: RemoteConfig{
			Timeout:      60 * time.Second,
			HistoryTurns: 10,
		},
		Assistant: AssistantConfig{
			ChunkSize:   5,
			PacingDelay: 30 * time.Millisecond,
			Timezone:    "Asia/Seoul",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from defaults, the TOML file at
// $XDG_CONFIG_HOME/docent/config.toml and DOCENT_* environment variables,
// in increasing order of precedence. Secrets are read from the environment
// only.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	b, err := newFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable DOCENT_API_TOKEN")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendFile:
		if c.Storage.SnapshotFile == "" {
			return fmt.Errorf("storage.backend %q requires storage.snapshot_file", BackendFile)
		}
	default:
		return fmt.Errorf("invalid storage.backend %q: want %q or %q", c.Storage.Backend, BackendSQLite, BackendFile)
	}
	if c.Assistant.ChunkSize < 0 || c.Assistant.PacingDelay < 0 {
		return fmt.Errorf("assistant.chunk_size and assistant.pacing_delay must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone used to resolve date expressions.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Assistant.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid assistant.timezone %q: %w", c.Assistant.Timezone, err)
	}
	return loc, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docent-data"
		}
	}
	return filepath.Join(dir, "docent")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docent", "config.toml")
}
