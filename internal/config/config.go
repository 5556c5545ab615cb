// Package config loads pipeline settings from YAML with environment overrides.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration shared by the extractor, loader and dimension sync binaries
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Stream    StreamConfig    `yaml:"stream"`
	Ops       DatabaseConfig  `yaml:"ops"`
	CRM       MySQLConfig     `yaml:"crm"`
	Warehouse DatabaseConfig  `yaml:"warehouse"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Loader    LoaderConfig    `yaml:"loader"`
	DimSync   DimSyncConfig   `yaml:"dimsync"`
}

// ServiceConfig holds service-level settings
type ServiceConfig struct {
	Name       string `yaml:"name"`
	HealthPort int    `yaml:"health_port"`
	// StaleAfterSeconds reports a component degraded after this long without
	// publishing or loading a batch. Zero disables the check.
	StaleAfterSeconds int `yaml:"stale_after_seconds"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
}

// RedisConfig holds the Redis connection used for the cursor and the stream
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StreamConfig names the stream, consumer group and cursor key
type StreamConfig struct {
	Name      string `yaml:"name"`
	Group     string `yaml:"group"`
	Consumer  string `yaml:"consumer"`
	CursorKey string `yaml:"cursor_key"`
	// MaxLen caps the stream with approximate trimming. Zero disables trimming.
	MaxLen int64 `yaml:"max_len"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// MySQLConfig holds MariaDB/MySQL connection settings for the CRM store
type MySQLConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ExtractorConfig holds extractor polling and backpressure settings
type ExtractorConfig struct {
	BatchSize            int   `yaml:"batch_size"`
	IdleIntervalSeconds  int   `yaml:"idle_interval_seconds"`
	BackoffSeconds       int   `yaml:"backoff_seconds"`
	WarningBacklog       int64 `yaml:"warning_backlog"`
	CriticalBacklog      int64 `yaml:"critical_backlog"`
	ShortPauseMillis     int   `yaml:"short_pause_ms"`
	CriticalPauseSeconds int   `yaml:"critical_pause_seconds"`
	MaxPauseSeconds      int   `yaml:"max_pause_seconds"`
}

// LoaderConfig holds consumer settings
type LoaderConfig struct {
	Count               int64 `yaml:"count"`
	BlockMillis         int   `yaml:"block_ms"`
	BackoffSeconds      int   `yaml:"backoff_seconds"`
	ClaimMinIdleSeconds int   `yaml:"claim_min_idle_seconds"`
	DeleteAcked         bool  `yaml:"delete_acked"`
	FoldModulus         int64 `yaml:"fold_modulus"`
	IdleWaitMillis      int   `yaml:"idle_wait_ms"`
}

// DimSyncConfig holds dimension synchronizer settings
type DimSyncConfig struct {
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	BackoffSeconds  int      `yaml:"backoff_seconds"`
	Dimensions      []string `yaml:"dimensions"`
}

// Default returns a configuration populated with the pipeline defaults
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:       "trip-etl",
			HealthPort: 8090,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Stream: StreamConfig{
			Name:      "stream:fact_trips_real",
			Group:     "dwh_group",
			CursorKey: "etl:state:last_trip_id",
		},
		Ops: DatabaseConfig{
			Host:     "localhost",
			Port:     5433,
			Database: "Uber_ops",
			User:     "postgres",
			SSLMode:  "disable",
		},
		CRM: MySQLConfig{
			Host:     "localhost",
			Port:     3307,
			Database: "Uber_crm",
			User:     "root",
		},
		Warehouse: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "Uber_dwh",
			User:     "postgres",
			SSLMode:  "disable",
			MaxConns: 4,
		},
		Extractor: ExtractorConfig{
			BatchSize:            1000,
			IdleIntervalSeconds:  5,
			BackoffSeconds:       5,
			WarningBacklog:       50000,
			CriticalBacklog:      100000,
			ShortPauseMillis:     500,
			CriticalPauseSeconds: 5,
			MaxPauseSeconds:      60,
		},
		Loader: LoaderConfig{
			Count:          1000,
			BlockMillis:    2000,
			BackoffSeconds: 5,
			DeleteAcked:    true,
			FoldModulus:    10_000_000,
		},
		DimSync: DimSyncConfig{
			CooldownSeconds: 60,
			BackoffSeconds:  10,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Stream.Consumer == "" {
		cfg.Stream.Consumer = DefaultConsumerName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("OPS_DSN"); v != "" {
		c.Ops.DSN = v
	}
	if v := os.Getenv("CRM_DSN"); v != "" {
		c.CRM.DSN = v
	}
	if v := os.Getenv("WAREHOUSE_DSN"); v != "" {
		c.Warehouse.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Logging.Environment = v
	}
	if v := os.Getenv("CONSUMER_NAME"); v != "" {
		c.Stream.Consumer = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HEALTH_PORT: %w", err)
		}
		c.Service.HealthPort = port
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Stream.Name == "" || c.Stream.Group == "" || c.Stream.CursorKey == "" {
		return fmt.Errorf("stream.name, stream.group and stream.cursor_key are required")
	}
	if c.Stream.MaxLen < 0 {
		return fmt.Errorf("stream.max_len must not be negative")
	}
	if c.Extractor.BatchSize < 1 {
		return fmt.Errorf("extractor.batch_size must be at least 1")
	}
	if c.Extractor.WarningBacklog <= 0 || c.Extractor.CriticalBacklog < c.Extractor.WarningBacklog {
		return fmt.Errorf("extractor backlog thresholds must satisfy 0 < warning_backlog <= critical_backlog")
	}
	if c.Loader.Count < 1 {
		return fmt.Errorf("loader.count must be at least 1")
	}
	if c.Loader.FoldModulus < 1 {
		return fmt.Errorf("loader.fold_modulus must be at least 1")
	}
	if c.Service.StaleAfterSeconds < 0 {
		return fmt.Errorf("service.stale_after_seconds must not be negative")
	}
	if c.Loader.IdleWaitMillis < 0 {
		return fmt.Errorf("loader.idle_wait_ms must not be negative")
	}
	if c.DimSync.CooldownSeconds < 0 {
		return fmt.Errorf("dimsync.cooldown_seconds must not be negative")
	}
	return nil
}

// ConnectionString builds a postgres:// URL accepted by both lib/pq and pgx.
// An explicit DSN wins. Credentials are escaped, so an empty password or one
// containing spaces or quotes stays intact.
func (d *DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// ConnectionString builds a go-sql-driver DSN. An explicit DSN wins.
func (m *MySQLConfig) ConnectionString() string {
	if m.DSN != "" {
		return m.DSN
	}
	dsn := mysql.NewConfig()
	dsn.User = m.User
	dsn.Passwd = m.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", m.Host, m.Port)
	dsn.DBName = m.Database
	dsn.ParseTime = true
	return dsn.FormatDSN()
}

// IdleInterval returns how long the extractor waits after an empty scan
func (e ExtractorConfig) IdleInterval() time.Duration {
	return time.Duration(e.IdleIntervalSeconds) * time.Second
}

// Backoff returns the extractor's back-off after a transient failure
func (e ExtractorConfig) Backoff() time.Duration {
	return time.Duration(e.BackoffSeconds) * time.Second
}

// ShortPause returns the pause applied between the warning and critical backlog
func (e ExtractorConfig) ShortPause() time.Duration {
	return time.Duration(e.ShortPauseMillis) * time.Millisecond
}

// CriticalPause returns the base pause applied at the critical backlog
func (e ExtractorConfig) CriticalPause() time.Duration {
	return time.Duration(e.CriticalPauseSeconds) * time.Second
}

// MaxPause caps the proportional critical pause
func (e ExtractorConfig) MaxPause() time.Duration {
	return time.Duration(e.MaxPauseSeconds) * time.Second
}

// Block returns the XREADGROUP block timeout
func (l LoaderConfig) Block() time.Duration {
	return time.Duration(l.BlockMillis) * time.Millisecond
}

// IdleWait returns the pause after an empty read, on top of the block timeout
func (l LoaderConfig) IdleWait() time.Duration {
	return time.Duration(l.IdleWaitMillis) * time.Millisecond
}

// StaleAfter returns how long a component may go without progress before health reports it degraded
func (s ServiceConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterSeconds) * time.Second
}

// Backoff returns the loader's back-off after a failed batch
func (l LoaderConfig) Backoff() time.Duration {
	return time.Duration(l.BackoffSeconds) * time.Second
}

// ClaimMinIdle returns the idle time after which another consumer's pending entries are claimed
func (l LoaderConfig) ClaimMinIdle() time.Duration {
	return time.Duration(l.ClaimMinIdleSeconds) * time.Second
}

// Cooldown returns the pause between synchronization cycles
func (d DimSyncConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSeconds) * time.Second
}

// Backoff returns the pause after a failed synchronization cycle
func (d DimSyncConfig) Backoff() time.Duration {
	return time.Duration(d.BackoffSeconds) * time.Second
}

// DefaultConsumerName returns "<hostname>-<8 hex chars>" so that replicas never share a consumer
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "loader"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
