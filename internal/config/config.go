// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHost(string)
	SetBrowserPort(int)
	SetBrowserSettleDelay(d time.Duration)

	// Server Setters
	SetServerListenAddr(string)
}

// Config holds the entire application configuration.
// Fields are exported for viper's decoder; callers go through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	ServerCfg  ServerConfig  `mapstructure:"server" yaml:"server"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

// Browser Setters
func (c *Config) SetBrowserHost(h string)               { c.BrowserCfg.Host = h }
func (c *Config) SetBrowserPort(p int)                  { c.BrowserCfg.Port = p }
func (c *Config) SetBrowserSettleDelay(d time.Duration) { c.BrowserCfg.SettleDelay = d }

// Server Setters
func (c *Config) SetServerListenAddr(a string) { c.ServerCfg.ListenAddr = a }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes how to reach the externally managed browser and how
// each fetch execution is paced against it.
type BrowserConfig struct {
	// Host is the remote debugging host. Empty means "resolve HostAlias".
	Host string `mapstructure:"host" yaml:"host"`
	// HostAlias is looked up when Host is empty (the docker host gateway by default).
	HostAlias string `mapstructure:"host_alias" yaml:"host_alias"`
	// FallbackHost is used verbatim when HostAlias does not resolve.
	FallbackHost string `mapstructure:"fallback_host" yaml:"fallback_host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	// SettleDelay is applied after DOMContentLoaded and before evaluation.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// NavigationTimeout bounds the wait for DOMContentLoaded. Zero timeouts
	// inherit whatever the caller's context imposes, which may be nothing.
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	EvaluationTimeout   time.Duration `mapstructure:"evaluation_timeout" yaml:"evaluation_timeout"`
	SerializeExecutions bool          `mapstructure:"serialize_executions" yaml:"serialize_executions"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fetchproxy")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.host", "")
	v.SetDefault("browser.host_alias", "host.docker.internal")
	v.SetDefault("browser.fallback_host", "127.0.0.1")
	v.SetDefault("browser.port", 9222)
	v.SetDefault("browser.settle_delay", "2s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.evaluation_timeout", "0s")
	v.SetDefault("browser.serialize_executions", true)

	// -- Server --
	v.SetDefault("server.listen_addr", "0.0.0.0:8010")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 10)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// CDP_HOST is the historical override for the debugging host and must keep working
	// without the FETCHPROXY_ prefix.
	if err := v.BindEnv("browser.host", "CDP_HOST", "FETCHPROXY_BROWSER_HOST"); err != nil {
		return nil, fmt.Errorf("error binding browser host env: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("browser.port must be between 1 and 65535")
	}
	if b.Host == "" && b.HostAlias == "" && b.FallbackHost == "" {
		return fmt.Errorf("one of browser.host, browser.host_alias or browser.fallback_host is required")
	}
	if b.SettleDelay < 0 {
		return fmt.Errorf("browser.settle_delay must not be negative")
	}
	if b.NavigationTimeout < 0 || b.EvaluationTimeout < 0 {
		return fmt.Errorf("browser timeouts must not be negative")
	}
	return nil
}

// Validate checks the ServerConfig settings.
func (s *ServerConfig) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be a positive integer")
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}
