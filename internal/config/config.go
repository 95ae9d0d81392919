// Package config provides configuration loading and management for the sync service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/sqltmpl"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
	"github.com/stacklok/tablesync/internal/telemetry"
)

const (
	// DriverPostgres stores tables in PostgreSQL
	DriverPostgres = "postgres"

	// DriverSQLite stores tables in an embedded SQLite file
	DriverSQLite = "sqlite"
)

const (
	// DefaultPageSize is the number of records fetched per source page
	DefaultPageSize = 200

	// DefaultSourceTimeout bounds one source page request
	DefaultSourceTimeout = 30 * time.Second

	// EnvPrefix is the prefix of environment variables read through viper
	EnvPrefix = "TABLESYNC"

	// PasswordEnvVar is read when no password file is configured
	PasswordEnvVar = "TABLESYNC_DATABASE_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database  DatabaseConfig     `yaml:"database"`
	Source    *SourceConfig      `yaml:"source,omitempty"`
	Sync      SyncConfig         `yaml:"sync,omitempty"`
	Delta     DeltaConfig        `yaml:"delta,omitempty"`
	Events    EventsConfig       `yaml:"events,omitempty"`
	Telemetry *telemetry.Config  `yaml:"telemetry,omitempty"`
	Tables    []schema.TableSpec `yaml:"tables"`
}

// DatabaseConfig defines the destination database
type DatabaseConfig struct {
	// Driver is postgres (default) or sqlite
	Driver string `yaml:"driver,omitempty"`

	// Path is the SQLite database file
	Path string `yaml:"path,omitempty"`

	// Host is the database server hostname or IP address
	Host string `yaml:"host,omitempty"`

	// Port is the database server port
	Port int `yaml:"port,omitempty"`

	// User is the database username
	User string `yaml:"user,omitempty"`

	// PasswordFile is the path to a file containing only the database password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database,omitempty"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of pooled connections
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
}

// SourceConfig defines the paged HTTP extraction endpoint
type SourceConfig struct {
	// Endpoint receives GET ?table=&pageNo=&pageSize=
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one page request (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// SyncConfig holds the synchronization knobs
type SyncConfig struct {
	PageSize                int    `yaml:"pageSize,omitempty"`
	StagingSuffix           string `yaml:"stagingSuffix,omitempty"`
	DefaultUpdateTimeColumn string `yaml:"defaultUpdateTimeColumn,omitempty"`

	// LockTimeout bounds waiting for a table lock. Empty blocks indefinitely.
	LockTimeout string `yaml:"lockTimeout,omitempty"`

	// AddPolicy is strict (default) or upsert
	AddPolicy string `yaml:"addPolicy,omitempty"`

	// Interval is the periodic full resync interval. Empty syncs on startup only.
	Interval string `yaml:"interval,omitempty"`

	// Concurrency bounds how many tables run a full sync at once
	Concurrency int `yaml:"concurrency,omitempty"`
}

// DeltaConfig selects the delta message inputs
type DeltaConfig struct {
	// HTTP enables POST /v1/deltas. Defaults to true.
	HTTP *bool `yaml:"http,omitempty"`

	Kafka *KafkaConsumerConfig `yaml:"kafka,omitempty"`
}

// KafkaConsumerConfig defines the delta topic consumer
type KafkaConsumerConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupId"`
}

// EventsConfig selects where change batches go
type EventsConfig struct {
	// Log writes every batch to the structured log
	Log bool `yaml:"log,omitempty"`

	Kafka *KafkaTopicConfig `yaml:"kafka,omitempty"`
}

// KafkaTopicConfig defines the change event topic
type KafkaTopicConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if c.Source != nil {
		if err := c.Source.validate(); err != nil {
			return err
		}
	}
	if err := c.Delta.validate(); err != nil {
		return err
	}
	if err := c.Events.validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return c.validateTables()
}

func (c *Config) validateTables() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table must be configured")
	}

	names := make(map[string]bool, len(c.Tables))
	for i, spec := range c.Tables {
		name := spec.Name
		if name == "" {
			name = schema.TableName(spec.TypeName)
		}
		if name == "" {
			return fmt.Errorf("tables[%d]: name or typeName is required", i)
		}

		prefix := fmt.Sprintf("tables[%d] (%s)", i, name)
		if names[name] {
			return fmt.Errorf("%s: duplicate table name", prefix)
		}
		names[name] = true

		if len(spec.Fields) == 0 {
			return fmt.Errorf("%s: at least one field is required", prefix)
		}
		for j, f := range spec.Fields {
			if f.Name == "" {
				return fmt.Errorf("%s: fields[%d]: name is required", prefix, j)
			}
		}
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.GetDriver() {
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("database: path is required for the sqlite driver")
		}
	case DriverPostgres:
		if d.Host == "" {
			return fmt.Errorf("database: host is required")
		}
		if d.Database == "" {
			return fmt.Errorf("database: database is required")
		}
		if d.User == "" {
			return fmt.Errorf("database: user is required")
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("database: port must be between 0 and 65535, got %d", d.Port)
		}
	default:
		return fmt.Errorf("database: driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, d.Driver)
	}
	if d.MaxOpenConns < 0 {
		return fmt.Errorf("database: maxOpenConns must not be negative")
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.PageSize < 0 {
		return fmt.Errorf("sync: pageSize must not be negative, got %d", s.PageSize)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("sync: concurrency must not be negative, got %d", s.Concurrency)
	}
	if _, err := pkgsync.ParseAddPolicy(s.AddPolicy); err != nil {
		return fmt.Errorf("sync: addPolicy: %w", err)
	}
	for name, value := range map[string]string{"lockTimeout": s.LockTimeout, "interval": s.Interval} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("sync: %s must be a valid duration (e.g., '30s', '1h'): %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("sync: %s must not be negative", name)
		}
	}
	return nil
}

func (s *SourceConfig) validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("source: endpoint is required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source: endpoint must be an absolute http(s) URL, got %q", s.Endpoint)
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("source: timeout must be a valid duration: %w", err)
		}
	}
	return nil
}

func (d *DeltaConfig) validate() error {
	if d.Kafka == nil {
		return nil
	}
	if len(d.Kafka.Brokers) == 0 {
		return fmt.Errorf("delta.kafka: at least one broker is required")
	}
	if d.Kafka.Topic == "" {
		return fmt.Errorf("delta.kafka: topic is required")
	}
	if d.Kafka.GroupID == "" {
		return fmt.Errorf("delta.kafka: groupId is required")
	}
	return nil
}

func (e *EventsConfig) validate() error {
	if e.Kafka == nil {
		return nil
	}
	if len(e.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka: at least one broker is required")
	}
	if e.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka: topic is required")
	}
	return nil
}

// GetDriver returns the database driver, defaulting to postgres
func (d *DatabaseConfig) GetDriver() string {
	if d.Driver == "" {
		return DriverPostgres
	}
	return d.Driver
}

// Dialect returns the SQL dialect of the configured driver
func (d *DatabaseConfig) Dialect() sqltmpl.Dialect {
	if d.GetDriver() == DriverSQLite {
		return sqltmpl.DialectSQLite
	}
	return sqltmpl.DialectPostgres
}

// GetPassword returns the database password, read from PasswordFile if set
// and otherwise from the TABLESYNC_DATABASE_PASSWORD environment variable.
// Whitespace around a password read from file is trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf("no database password configured: set passwordFile or %s environment variable", PasswordEnvVar)
}

// GetConnectionString builds a PostgreSQL connection string with the password URL-escaped
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		port,
		d.Database,
		sslMode,
	), nil
}

// GetTimeout returns the page request timeout
func (s *SourceConfig) GetTimeout() time.Duration {
	if s == nil || s.Timeout == "" {
		return DefaultSourceTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return DefaultSourceTimeout
	}
	return d
}

// GetPageSize returns the page size, defaulting to 200
func (s *SyncConfig) GetPageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

// GetLockTimeout returns the lock timeout; zero blocks indefinitely
func (s *SyncConfig) GetLockTimeout() time.Duration {
	return parseDurationOrZero(s.LockTimeout)
}

// GetInterval returns the resync interval; zero disables periodic resync
func (s *SyncConfig) GetInterval() time.Duration {
	return parseDurationOrZero(s.Interval)
}

// GetAddPolicy returns the delta ADD policy, defaulting to strict
func (s *SyncConfig) GetAddPolicy() pkgsync.AddPolicy {
	p, err := pkgsync.ParseAddPolicy(s.AddPolicy)
	if err != nil {
		return pkgsync.AddStrict
	}
	return p
}

// SchemaOptions returns the naming options used to resolve table specs
func (c *Config) SchemaOptions() schema.Options {
	return schema.Options{
		StagingSuffix:           c.Sync.StagingSuffix,
		DefaultUpdateTimeColumn: c.Sync.DefaultUpdateTimeColumn,
		Dialect:                 c.Database.Dialect(),
	}
}

// HTTPEnabled reports whether deltas are accepted over HTTP
func (d *DeltaConfig) HTTPEnabled() bool {
	return d.HTTP == nil || *d.HTTP
}

func parseDurationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
