package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PROXYJUDGE_"

// Config represents the main application configuration
type Config struct {
	Timeout            int               `yaml:"timeout"`
	Concurrency        int               `yaml:"concurrency"`
	Protocols          []proxy.Protocol  `yaml:"protocols"`
	Username           string            `yaml:"username,omitempty"`
	Password           string            `yaml:"password,omitempty"`
	Judges             proxy.Judges      `yaml:"judges"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	UserAgent          string            `yaml:"user_agent"`
	DefaultHeaders     map[string]string `yaml:"default_headers"`
	ParseLimit         int               `yaml:"parse_limit"`
	MaxDuration        time.Duration     `yaml:"max_duration"`
	RateLimit          RateLimitConfig   `yaml:"rate_limit"`
	Store              StoreConfig       `yaml:"store"`
	Metrics            MetricsConfig     `yaml:"metrics"`
	Logging            LoggingConfig     `yaml:"logging"`
	Server             ServerConfig      `yaml:"server"`
}

// RateLimitConfig bounds how fast new checks start across all workers
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// StoreConfig selects the persistence adapter by DSN scheme
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig contains Prometheus exporter settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig contains API server settings
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	CurrentIPTTL time.Duration `yaml:"current_ip_ttl"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// LoadConfig loads configuration from a YAML file. Fields absent from the
// file keep their default values; a missing file yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := GetDefaultConfig()

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrorConfigNotFound, "failed to read config file", err).
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.NewConfigError(errors.ErrorConfigParsingFailed, "error parsing config file", err).
			WithDetail("file", filename)
	}

	if config.Concurrency <= 0 {
		config.Concurrency = GetDefaultConfig().Concurrency
	}

	return config, nil
}

// Load reads the YAML file and then applies PROXYJUDGE_* environment
// overrides, which take precedence over the file.
func Load(filename string) (*Config, error) {
	config, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errors.NewConfigError(errors.ErrorConfigParsingFailed, "failed to load env file", err)
	}
	return nil
}

// ApplyEnv overlays environment overrides read through lookup
func ApplyEnv(config *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	bad := func(name, value string, err error) error {
		return errors.NewConfigError(errors.ErrorConfigInvalid, "invalid environment override", err).
			WithDetail("variable", EnvPrefix+name).
			WithDetail("value", value)
	}

	if v, ok := get("TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return bad("TIMEOUT", v, err)
		}
		config.Timeout = n
	}
	if v, ok := get("CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return bad("CONCURRENCY", v, err)
		}
		config.Concurrency = n
	}
	if v, ok := get("PROTOCOLS"); ok {
		protocols, err := proxy.ParseProtocols(v)
		if err != nil {
			return bad("PROTOCOLS", v, err)
		}
		config.Protocols = protocols
	}
	if v, ok := get("MAX_DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return bad("MAX_DURATION", v, err)
		}
		config.MaxDuration = d
	}
	if v, ok := get("RATE_LIMIT"); ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return bad("RATE_LIMIT", v, err)
		}
		config.RateLimit.Enabled = rate > 0
		config.RateLimit.PerSecond = rate
	}

	strs := map[string]*string{
		"USERNAME":            &config.Username,
		"PASSWORD":            &config.Password,
		"USER_AGENT":          &config.UserAgent,
		"JUDGE_IP_HTTP":       &config.Judges.IP.HTTP,
		"JUDGE_IP_HTTPS":      &config.Judges.IP.HTTPS,
		"JUDGE_HEADERS_HTTP":  &config.Judges.Headers.HTTP,
		"JUDGE_HEADERS_HTTPS": &config.Judges.Headers.HTTPS,
		"STORE_DSN":           &config.Store.DSN,
		"METRICS_ADDR":        &config.Metrics.Addr,
		"LOG_LEVEL":           &config.Logging.Level,
		"LOG_FORMAT":          &config.Logging.Format,
		"SERVER_ADDR":         &config.Server.Addr,
	}
	for name, field := range strs {
		if v, ok := get(name); ok {
			*field = v
		}
	}

	return nil
}

// GetDefaultConfig returns a configuration with default values
func GetDefaultConfig() *Config {
	return &Config{
		Timeout:     proxy.DefaultTimeoutSeconds,
		Concurrency: 10,
		Protocols:   proxy.AllProtocols(),
		Judges:      proxy.DefaultJudges(),
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		DefaultHeaders: map[string]string{
			"Accept":          "text/html,application/json;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
		},
		ParseLimit: 1000,
		RateLimit: RateLimitConfig{
			Enabled:   false,
			PerSecond: 20,
			Burst:     5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			CurrentIPTTL: 5 * time.Minute,
			MaxBodyBytes: 1 << 20,
		},
	}
}

// CheckerOptions builds the per-check options template
func (c *Config) CheckerOptions(verbose bool) proxy.CheckerOptions {
	return proxy.CheckerOptions{
		Verbose:        verbose,
		TimeoutSeconds: c.Timeout,
		Protocols:      append([]proxy.Protocol(nil), c.Protocols...),
		Username:       c.Username,
		Password:       c.Password,
	}.WithDefaults()
}

// Fetcher builds the judge fetcher described by the configuration
func (c *Config) Fetcher() *proxy.HTTPFetcher {
	f := proxy.NewHTTPFetcher(c.Judges)
	f.UserAgent = c.UserAgent
	f.DefaultHeaders = c.DefaultHeaders
	f.InsecureSkipVerify = c.InsecureSkipVerify
	return f
}

// LoggerConfig maps the logging section onto a logging.Config
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.ParseLevel(c.Logging.Level),
		Format: c.Logging.Format,
	}
}

// String renders the config as YAML, without credentials
func (c *Config) String() string {
	redacted := *c
	if redacted.Password != "" {
		redacted.Password = "***"
	}
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
