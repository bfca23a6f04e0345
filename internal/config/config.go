package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Monitor  MonitorConfig  `yaml:"monitor"`

	Integration IntegrationConfig `yaml:"integration"`
}

// IntegrationConfig represents outbound integrations
type IntegrationConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig represents one outbound HTTP endpoint for geofence events
type WebhookConfig struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Events   []string          `yaml:"events"`
}

// ServerConfig represents server identification
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST API listener
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MonitorConfig represents geofence monitoring tuning
type MonitorConfig struct {
	// OwnerID selects whose geofences the server monitors
	OwnerID string `yaml:"owner_id"`

	// Throttle thresholds: a position is processed when either is reached
	MinInterval time.Duration `yaml:"min_interval"`
	MinDistance float64       `yaml:"min_distance_meters"`

	// ToleranceMeters widens circle boundaries to absorb GPS noise
	ToleranceMeters float64 `yaml:"tolerance_meters"`

	StateTTL      time.Duration `yaml:"state_ttl"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	DedupWindow   time.Duration `yaml:"dedup_window"`

	CacheStats bool `yaml:"cache_stats"`

	// RestoreSnapshot reloads the state cache from the database on start
	RestoreSnapshot bool `yaml:"restore_snapshot"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if ownerID := os.Getenv("MONITOR_OWNER_ID"); ownerID != "" {
		c.Monitor.OwnerID = ownerID
	}
}

// applyDefaults fills zero values with operational defaults
func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.Monitor.MinInterval == 0 {
		c.Monitor.MinInterval = 5 * time.Second
	}
	if c.Monitor.MinDistance == 0 {
		c.Monitor.MinDistance = 5.0
	}
	if c.Monitor.ToleranceMeters == 0 {
		c.Monitor.ToleranceMeters = 5.0
	}
	if c.Monitor.StateTTL == 0 {
		c.Monitor.StateTTL = 24 * time.Hour
	}
	if c.Monitor.PruneInterval == 0 {
		c.Monitor.PruneInterval = 30 * time.Minute
	}
	if c.Monitor.DedupWindow == 0 {
		c.Monitor.DedupWindow = 3 * time.Second
	}
}
