package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cr.
type Config struct {
	Principal  string           `toml:"principal"` // acting user for CLI commands
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // "debug", "info" (default), "warn" or "error"
	Database   DatabaseConfig   `toml:"database"`
	Locks      LocksConfig      `toml:"locks"`
	Snapshots  SnapshotConfig   `toml:"snapshots"`
	Encryption EncryptionConfig `toml:"encryption"`
	Import     ImportConfig     `toml:"import"`
}

// DatabaseConfig represents configuration for the repository database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// LocksConfig selects where keyed locks live.
// This uses a tagged union pattern - the Backend field determines which other fields are relevant.
type LocksConfig struct {
	Backend   string `toml:"backend"`    // "memory" (default) or "redis"
	TimeoutMS int    `toml:"timeout_ms"` // default wait for a lock, 10s when unset

	// Redis-specific fields (only used when Backend == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisPrefix   string `toml:"redis_prefix,omitempty"`  // key prefix, "cr:lock:" when unset
	RedisTTLMS    int    `toml:"redis_ttl_ms,omitempty"`  // lease length, 30s when unset
	RedisPollMS   int    `toml:"redis_poll_ms,omitempty"` // retry interval, 25ms when unset
}

// SnapshotConfig represents configuration for the snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SnapshotConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// AutoExport writes a snapshot after every mutating command.
	AutoExport bool `toml:"auto_export,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Armor          bool   `toml:"armor,omitempty"` // PEM-armored ciphertext
}

// ImportConfig holds settings for bulk import.
type ImportConfig struct {
	Ignore      []string `toml:"ignore"`
	Concurrency int      `toml:"concurrency"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(principal, baseDir string) *Config {
	return &Config{
		Principal: principal,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Database:  DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Locks:     LocksConfig{Backend: "memory", TimeoutMS: 10000},
		Snapshots: SnapshotConfig{Type: "filesystem", Root: filepath.Join(baseDir, "snapshots")},
		Encryption: EncryptionConfig{
			Enabled:        true,
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cr.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cr.key"),
		},
		Import: ImportConfig{Ignore: []string{".git", ".DS_Store"}, Concurrency: 4},
	}
}

// LockTimeout returns the configured default lock wait.
func (c LocksConfig) LockTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Validate checks the tagged unions for unknown types and missing fields.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite")
		}
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Locks.Backend {
	case "", "memory":
	case "redis":
		if c.Locks.RedisAddr == "" {
			return fmt.Errorf("locks: redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("locks: unknown backend %q", c.Locks.Backend)
	}

	switch c.Snapshots.Type {
	case "", "memory":
	case "filesystem":
		if c.Snapshots.Root == "" {
			return fmt.Errorf("snapshots: root required for filesystem store")
		}
	case "s3":
		if c.Snapshots.S3Bucket == "" {
			return fmt.Errorf("snapshots: s3_bucket required for s3 store")
		}
	default:
		return fmt.Errorf("snapshots: unknown type %q", c.Snapshots.Type)
	}

	if c.Encryption.Enabled {
		switch c.Encryption.Type {
		case "", "age":
			if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
				return fmt.Errorf("encryption: key paths required for age")
			}
		case "test":
		default:
			return fmt.Errorf("encryption: unknown type %q", c.Encryption.Type)
		}
	}

	if c.Import.Concurrency < 0 {
		return fmt.Errorf("import: concurrency must not be negative")
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes cfg to path unless a file already exists there.
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
