// Package config loads application configuration and initializes logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Merge    MergeConfig    `yaml:"merge" mapstructure:"merge"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResolverConfig holds the resolution thresholds and comparison policy
// locations. The nickname table and alias-domain allow-lists are data, not
// code; deployments point these at YAML files.
type ResolverConfig struct {
	NameMatchThreshold       float64 `yaml:"name_match_threshold" mapstructure:"name_match_threshold"`
	NameCorroborateThreshold float64 `yaml:"name_corroborate_threshold" mapstructure:"name_corroborate_threshold"`
	CompanyMatchThreshold    float64 `yaml:"company_match_threshold" mapstructure:"company_match_threshold"`
	SimilarityConfigPath     string  `yaml:"similarity_config_path" mapstructure:"similarity_config_path"`
	LookupRetryMaxAttempts   int     `yaml:"lookup_retry_max_attempts" mapstructure:"lookup_retry_max_attempts"`
}

// MergeConfig configures the merge policy.
type MergeConfig struct {
	// AuthoritativeSources maps a platform to the fields it may overwrite
	// (e.g. close: [phone, title]).
	AuthoritativeSources map[string][]string `yaml:"authoritative_sources" mapstructure:"authoritative_sources"`
}

// BatchConfig configures bulk processing.
type BatchConfig struct {
	MaxConcurrentContacts int `yaml:"max_concurrent_contacts" mapstructure:"max_concurrent_contacts"`
}

// ServerConfig configures the ingest webhook server.
type ServerConfig struct {
	Port            int     `yaml:"port" mapstructure:"port"`
	IngestRateLimit float64 `yaml:"ingest_rate_limit" mapstructure:"ingest_rate_limit"`
	IngestBurst     int     `yaml:"ingest_burst" mapstructure:"ingest_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ingest_rate_limit", 25.0)
	v.SetDefault("server.ingest_burst", 50)
	v.SetDefault("batch.max_concurrent_contacts", 5)
	v.SetDefault("resolver.name_match_threshold", 0.75)
	v.SetDefault("resolver.name_corroborate_threshold", 0.5)
	v.SetDefault("resolver.company_match_threshold", 0.5)
	v.SetDefault("resolver.lookup_retry_max_attempts", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
