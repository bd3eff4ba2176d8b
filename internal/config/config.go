package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Client          ClientConfig          `yaml:"client"`
	Poll            PollConfig            `yaml:"poll"`
	Worker          WorkerConfig          `yaml:"worker"`
	Database        DatabaseConfig        `yaml:"database"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Auth            AuthConfig            `yaml:"auth"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains settings of the reference server (looper serve).
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	CORSOrigin      string   `yaml:"cors_origin"`
	LoopLength      float64  `yaml:"loop_length"`
	Beats           int      `yaml:"beats"`
	// TimestampInterval publishes the song position this often; zero disables.
	TimestampInterval Duration `yaml:"timestamp_interval"`
}

// ClientConfig contains settings of the replica client.
type ClientConfig struct {
	ServerURL      string   `yaml:"server_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	// ClientID identifies this instance to the server; empty generates one.
	ClientID string `yaml:"client_id"`
}

// PollConfig contains update poller settings.
type PollConfig struct {
	Window     Duration `yaml:"window"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ClockInterval    Duration `yaml:"clock_interval"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
	SnapshotDir      string   `yaml:"snapshot_dir"`
}

// DatabaseConfig selects the server's update log backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SnapshotStorageConfig contains S3-compatible storage settings for replica
// snapshots. An empty bucket keeps snapshots local.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LOOPER_CONFIG_PATH", "config/looper.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: Duration(30 * time.Second),
			// Long polls hold the response for up to a minute.
			WriteTimeout:    Duration(90 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			LoopLength:      8,
			Beats:           16,
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8080",
			RequestTimeout: Duration(30 * time.Second),
		},
		Poll: PollConfig{
			Window:     Duration(10 * time.Second),
			RetryDelay: Duration(1 * time.Second),
		},
		Worker: WorkerConfig{
			ClockInterval: Duration(50 * time.Millisecond),
			SnapshotDir:   "data/snapshots",
		},
		Database: DatabaseConfig{
			Driver: "memory",
			Path:   "data/looper.db",
		},
		SnapshotStorage: SnapshotStorageConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values; unparsable values are
// ignored.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LOOPER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("LOOPER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LOOPER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LOOPER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envDuration("LOOPER_TIMESTAMP_INTERVAL", &cfg.Server.TimestampInterval)
	if v := os.Getenv("LOOPER_CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}

	// Client
	if v := os.Getenv("LOOPER_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("LOOPER_CLIENT_ID"); v != "" {
		cfg.Client.ClientID = v
	}
	envDuration("LOOPER_REQUEST_TIMEOUT", &cfg.Client.RequestTimeout)

	// Poll
	envDuration("LOOPER_POLL_WINDOW", &cfg.Poll.Window)
	envDuration("LOOPER_POLL_RETRY_DELAY", &cfg.Poll.RetryDelay)

	// Worker
	envDuration("LOOPER_CLOCK_INTERVAL", &cfg.Worker.ClockInterval)
	envDuration("LOOPER_SNAPSHOT_INTERVAL", &cfg.Worker.SnapshotInterval)
	if v := os.Getenv("LOOPER_SNAPSHOT_DIR"); v != "" {
		cfg.Worker.SnapshotDir = v
	}

	// Database
	if v := os.Getenv("LOOPER_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LOOPER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Snapshot storage
	if v := os.Getenv("LOOPER_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("LOOPER_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("LOOPER_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("LOOPER_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("LOOPER_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("LOOPER_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	envDuration("LOOPER_S3_URL_EXPIRY", &cfg.SnapshotStorage.URLExpiry)

	// Auth
	if v := os.Getenv("LOOPER_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("LOOPER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOOPER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.LoopLength <= 0 || c.Server.Beats <= 0 {
		errs = append(errs, errors.New("server.loop_length and server.beats must be positive"))
	}

	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.server_url %q must be an absolute URL", c.Client.ServerURL))
	}

	window := time.Duration(c.Poll.Window)
	if window <= 0 || window > 60*time.Second {
		errs = append(errs, fmt.Errorf("poll.window %v must be within (0, 60s]", window))
	}
	if c.Worker.ClockInterval <= 0 {
		errs = append(errs, errors.New("worker.clock_interval must be positive"))
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want memory or sqlite", c.Database.Driver))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

// envDuration overrides *dst when key holds a parsable duration.
func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
