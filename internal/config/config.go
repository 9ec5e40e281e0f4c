// Package config loads decksync configuration: defaults, then an optional
// YAML file, then DECKSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	decksync "github.com/hyperengineering/decksync/internal/sync"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Decks           DecksConfig           `yaml:"decks"`
	Auth            AuthConfig            `yaml:"auth"`
	Sync            SyncConfig            `yaml:"sync"`
	Worker          WorkerConfig          `yaml:"worker"`
	Log             LogConfig             `yaml:"log"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DecksConfig contains server deck storage settings.
type DecksConfig struct {
	RootPath string `yaml:"root_path"`
}

// AuthConfig maps usernames to bcrypt password hashes.
type AuthConfig struct {
	Users map[string]string `yaml:"users"`
}

// SyncConfig contains sync engine and client settings.
type SyncConfig struct {
	Atomicity string   `yaml:"atomicity"`
	Timeout   Duration `yaml:"timeout"`
	URL       string   `yaml:"url"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"-"` // env-only, never in YAML
	Deck      string   `yaml:"deck"`
	LocalPath string   `yaml:"local_path"`
}

// WorkerConfig contains background worker settings. A zero backup interval
// disables deck backups. An empty BackupDir means <decks root>/.backups.
type WorkerConfig struct {
	BackupInterval Duration `yaml:"backup_interval"`
	BackupDir      string   `yaml:"backup_dir"`
}

// LogConfig contains logging settings. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SnapshotStorageConfig contains S3-compatible backup storage settings.
// An empty Bucket keeps backups local.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("DECKSYNC_CONFIG_PATH", "config/decksync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath, false); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path, true); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(60 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Decks: DecksConfig{
			RootPath: "~/.decksync/decks",
		},
		Auth: AuthConfig{
			Users: map[string]string{},
		},
		Sync: SyncConfig{
			Atomicity: string(decksync.AtomicityBestEffort),
			Timeout:   Duration(60 * time.Second),
		},
		Worker: WorkerConfig{
			BackupInterval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		SnapshotStorage: SnapshotStorageConfig{
			URLExpiry: Duration(15 * time.Minute),
		},
	}
}

func loadYAMLFile(cfg *Config, path string, mustExist bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Auth.Users == nil {
		cfg.Auth.Users = map[string]string{}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) error {
	// Server
	if v := os.Getenv("DECKSYNC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DECKSYNC_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	for name, dst := range map[string]*Duration{
		"DECKSYNC_READ_TIMEOUT":     &cfg.Server.ReadTimeout,
		"DECKSYNC_WRITE_TIMEOUT":    &cfg.Server.WriteTimeout,
		"DECKSYNC_SHUTDOWN_TIMEOUT": &cfg.Server.ShutdownTimeout,
		"DECKSYNC_SYNC_TIMEOUT":     &cfg.Sync.Timeout,
		"DECKSYNC_BACKUP_INTERVAL":  &cfg.Worker.BackupInterval,
		"DECKSYNC_S3_URL_EXPIRY":    &cfg.SnapshotStorage.URLExpiry,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = Duration(d)
		}
	}

	// Decks
	if v := os.Getenv("DECKSYNC_DECKS_ROOT"); v != "" {
		cfg.Decks.RootPath = v
	}

	// Auth
	if v := os.Getenv("DECKSYNC_USERS"); v != "" {
		users, err := ParseUsers(v)
		if err != nil {
			return fmt.Errorf("DECKSYNC_USERS: %w", err)
		}
		for u, h := range users {
			cfg.Auth.Users[u] = h
		}
	}

	// String settings
	for name, dst := range map[string]*string{
		"DECKSYNC_SYNC_ATOMICITY":  &cfg.Sync.Atomicity,
		"DECKSYNC_SYNC_URL":        &cfg.Sync.URL,
		"DECKSYNC_SYNC_USER":       &cfg.Sync.Username,
		"DECKSYNC_SYNC_PASSWORD":   &cfg.Sync.Password,
		"DECKSYNC_SYNC_DECK":       &cfg.Sync.Deck,
		"DECKSYNC_SYNC_LOCAL":      &cfg.Sync.LocalPath,
		"DECKSYNC_BACKUP_DIR":      &cfg.Worker.BackupDir,
		"DECKSYNC_LOG_LEVEL":       &cfg.Log.Level,
		"DECKSYNC_LOG_FORMAT":      &cfg.Log.Format,
		"DECKSYNC_LOG_FILE":        &cfg.Log.File,
		"DECKSYNC_SNAPSHOT_BUCKET": &cfg.SnapshotStorage.Bucket,
		"DECKSYNC_S3_ENDPOINT":     &cfg.SnapshotStorage.Endpoint,
		"DECKSYNC_S3_REGION":       &cfg.SnapshotStorage.Region,
		"DECKSYNC_S3_ACCESS_KEY":   &cfg.SnapshotStorage.AccessKey,
		"DECKSYNC_S3_SECRET_KEY":   &cfg.SnapshotStorage.SecretKey,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DECKSYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	return nil
}

// ParseUsers parses "user:hash,user:hash". The first ':' of an entry ends
// the username.
func ParseUsers(s string) (map[string]string, error) {
	users := map[string]string{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, hash, ok := strings.Cut(entry, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("invalid entry %q, want user:hash", entry)
		}
		users[user] = hash
	}
	return users, nil
}

// validate checks values every command relies on.
func (c *Config) validate() error {
	if _, err := decksync.ParseAtomicity(c.Sync.Atomicity); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format %q: must be json or text", c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// ValidateServer checks the settings needed to serve sync requests.
func (c *Config) ValidateServer() error {
	if len(c.Auth.Users) == 0 {
		return errors.New("no users configured: set auth.users or DECKSYNC_USERS")
	}
	return nil
}

// ValidateClient checks the settings needed to sync against a server.
func (c *Config) ValidateClient() error {
	var missing []string
	if c.Sync.URL == "" {
		missing = append(missing, "sync.url")
	}
	if c.Sync.Username == "" {
		missing = append(missing, "sync.username")
	}
	if c.Sync.Deck == "" {
		missing = append(missing, "sync.deck")
	}
	if c.Sync.LocalPath == "" {
		missing = append(missing, "sync.local_path")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing sync settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Atomicity returns the configured sync atomicity.
func (c *Config) Atomicity() decksync.Atomicity {
	a, _ := decksync.ParseAtomicity(c.Sync.Atomicity)
	return a
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
