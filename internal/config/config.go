// Package config handles configuration loading for paperdeskd.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     yaml:"server"     json:"server"`
	Auth       AuthConfig       `mapstructure:"auth"       yaml:"auth"       json:"auth"`
	DB         DBConfig         `mapstructure:"db"         yaml:"db"         json:"db"`
	MarketData MarketDataConfig `mapstructure:"market_data" yaml:"market_data" json:"market_data"`
	Engine     EngineConfig     `mapstructure:"engine"     yaml:"engine"     json:"engine"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"    json:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// AuthConfig holds bearer-token verification settings. There is no
// registration/login flow in scope — the JWT secret verifies tokens minted
// by an external collaborator (§1 explicitly excludes credential hashing
// and session tokens).
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
}

// DBConfig holds Ledger Store connection settings.
type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// MarketDataConfig holds Market Data Provider settings.
type MarketDataConfig struct {
	UpstreamURL   string `mapstructure:"upstream_url"   yaml:"upstream_url"   json:"upstream_url"`
	Mode          string `mapstructure:"mode"           yaml:"mode"           json:"mode"` // "development" | "production"
	QuoteTTLSec   int    `mapstructure:"quote_ttl_sec"   yaml:"quote_ttl_sec"   json:"quote_ttl_sec"`
	HistoryTTLSec int    `mapstructure:"history_ttl_sec" yaml:"history_ttl_sec" json:"history_ttl_sec"`
}

// IsDevelopment reports whether synthetic market-data fallback is allowed.
func (m MarketDataConfig) IsDevelopment() bool {
	return strings.EqualFold(m.Mode, "development")
}

// QuoteTTL returns the configured quote cache TTL as a duration.
func (m MarketDataConfig) QuoteTTL() time.Duration {
	return time.Duration(m.QuoteTTLSec) * time.Second
}

// HistoryTTL returns the configured historical-bar cache TTL as a duration.
func (m MarketDataConfig) HistoryTTL() time.Duration {
	return time.Duration(m.HistoryTTLSec) * time.Second
}

// EngineConfig holds Live Execution Engine settings.
type EngineConfig struct {
	TickPeriodSec   int      `mapstructure:"tick_period_sec"   yaml:"tick_period_sec"   json:"tick_period_sec"`
	DefaultSymbols  []string `mapstructure:"default_symbols"   yaml:"default_symbols"   json:"default_symbols"`
	QuoteTimeoutSec int      `mapstructure:"quote_timeout_sec" yaml:"quote_timeout_sec" json:"quote_timeout_sec"`
}

// TickPeriod returns the live engine's recurring tick period as a duration.
func (e EngineConfig) TickPeriod() time.Duration {
	return time.Duration(e.TickPeriodSec) * time.Second
}

// QuoteTimeout returns the per-fetch upstream timeout as a duration.
func (e EngineConfig) QuoteTimeout() time.Duration {
	return time.Duration(e.QuoteTimeoutSec) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"` // "debug", "info", "warn", "error"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.paperdesk/config.yaml (home directory)
//  3. /etc/paperdesk/config.yaml (system)
//
// Environment variables override config file values.
// Format: PAPERDESK_<SECTION>_<KEY>, e.g. PAPERDESK_AUTH_JWT_SECRET.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".paperdesk"))
	v.AddConfigPath("/etc/paperdesk")

	v.SetEnvPrefix("PAPERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("PAPERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("db.path", "./data/paperdesk.db")

	v.SetDefault("market_data.upstream_url", "https://query1.finance.yahoo.com/v8/finance")
	v.SetDefault("market_data.mode", "development")
	v.SetDefault("market_data.quote_ttl_sec", 60)
	v.SetDefault("market_data.history_ttl_sec", 3600)

	v.SetDefault("engine.tick_period_sec", 60)
	v.SetDefault("engine.default_symbols", []string{"SPY"})
	v.SetDefault("engine.quote_timeout_sec", 10)

	v.SetDefault("logging.level", "info")
}

// overrideFromEnv explicitly reads sensitive keys from environment
// variables, mirroring the teacher's pattern of never round-tripping
// secrets through the config file on disk.
func overrideFromEnv(cfg *Config) {
	if secret := os.Getenv("PAPERDESK_AUTH_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if mode := os.Getenv("NODE_ENV"); mode != "" {
		// Accept the spec's NODE_ENV name directly, per §6 Environment.
		cfg.MarketData.Mode = mode
	}
}

// SaveToFile writes the current configuration to a YAML file.
func SaveToFile(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(".", "config", "config.yaml")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ConfigFilePath returns the path to the active config file, if any.
func ConfigFilePath() string {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".paperdesk"))
	v.AddConfigPath("/etc/paperdesk")

	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
