// Package config loads the importer's typed configuration from defaults, an
// optional YAML file, and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sead-project/clearinghouse-import/internal/policy"
)

// Config is the importer's full configuration surface.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Output   OutputConfig   `mapstructure:"output"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// DatabaseConfig carries the Postgres connection settings for both the
// schema/store queries and the clearing_house staging pool.
type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxConnections   int32         `mapstructure:"max_connections"`
	HealthCheck      time.Duration `mapstructure:"health_check_period"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ConnString renders a libpq-style connection string from the configured fields.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// MigrationURL renders a pgx5:// DSN suitable for golang-migrate's pgx5
// database driver, which (unlike pgxpool.ParseConfig) requires a URL rather
// than libpq keyword/value pairs.
func (d DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme: "pgx5",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// PolicyConfig carries the per-policy parameters the policy engine consults.
type PolicyConfig struct {
	IgnoreColumns         []string                            `mapstructure:"ignore_columns"`
	DisabledPolicies      []string                             `mapstructure:"disabled_policies"`
	DefaultForeignKeys    map[string]policy.ForeignKeyDefault `mapstructure:"default_foreign_keys"`
	IdentityMappingTables []string                             `mapstructure:"identity_mapping_tables"`
}

// ToPolicyConfig adapts PolicyConfig into the policy package's own Config shape.
func (p PolicyConfig) ToPolicyConfig() policy.Config {
	return policy.Config{
		DefaultForeignKeys:    p.DefaultForeignKeys,
		IdentityMappingTables: p.IdentityMappingTables,
		IgnoreColumns:         p.IgnoreColumns,
	}
}

// OutputConfig carries the emitted-artifact and transfer-format settings.
type OutputConfig struct {
	Folder         string `mapstructure:"folder"`
	TransferFormat string `mapstructure:"transfer_format"` // "xml" or "csv"
	TidyXML        bool   `mapstructure:"tidy_xml"`
	Timestamp      bool   `mapstructure:"timestamp"`
}

// MetricsConfig controls the optional Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// CacheConfig controls the optional Redis-backed front cache for the
// schema's primary-key lookups. Leaving RedisURL empty keeps the importer on
// the in-process TTL cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig controls the optional S3-compatible archival of the emitted artifact.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseTLS    bool   `mapstructure:"use_tls"`
}

// Load reads configuration from defaults, a YAML config file at configPath
// (if non-empty and present), and CH_-prefixed environment variables (which
// an optional .env file may populate), in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("no .env file found - using environment variables and defaults")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
			log.Info().Str("file", configPath).Msg("config file loaded")
		} else {
			log.Info().Str("file", configPath).Msg("config file not found, using environment variables and defaults")
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("load .env file %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "sead")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 5)
	viper.SetDefault("database.health_check_period", "1m")
	viper.SetDefault("database.statement_timeout", "5m")

	viper.SetDefault("policy.ignore_columns", []string{"date_updated"})
	viper.SetDefault("policy.disabled_policies", []string{})
	viper.SetDefault("policy.identity_mapping_tables", []string{})

	viper.SetDefault("output.folder", "./output")
	viper.SetDefault("output.transfer_format", "xml")
	viper.SetDefault("output.tidy_xml", false)
	viper.SetDefault("output.timestamp", true)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", ":9090")

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.use_tls", true)

	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "5m")
}

// Validate checks invariants that mapstructure decoding alone can't express.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host must not be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database must not be empty")
	}
	switch c.Output.TransferFormat {
	case "xml", "csv":
	default:
		return fmt.Errorf("output.transfer_format must be \"xml\" or \"csv\", got %q", c.Output.TransferFormat)
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set when archive.enabled is true")
	}
	return nil
}
