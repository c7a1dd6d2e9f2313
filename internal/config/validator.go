package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/validation"
)

// ValidationResult represents the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ConfigValidationError
	Warnings []string
}

// ConfigValidationError represents a configuration validation error
type ConfigValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

func (r *ValidationResult) fail(field string, value interface{}, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ConfigValidationError{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// storeSchemes are the DSN schemes the store package can open
var storeSchemes = map[string]bool{
	"sqlite":     true,
	"postgres":   true,
	"postgresql": true,
	"redis":      true,
	"rediss":     true,
}

// ValidateConfig performs comprehensive validation on a configuration
func ValidateConfig(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ConfigValidationError{},
		Warnings: []string{},
	}

	if config.Timeout <= 0 {
		result.fail("timeout", config.Timeout, "timeout must be positive")
	} else if config.Timeout > 300 {
		result.warn("timeout of %d seconds is very high, may cause long delays", config.Timeout)
	}

	if config.Concurrency <= 0 {
		result.fail("concurrency", config.Concurrency, "concurrency must be positive")
	} else if config.Concurrency > 500 {
		result.warn("concurrency of %d is very high, may exhaust file descriptors", config.Concurrency)
	}

	validateProtocols(config, result)
	validateJudges(config, result)
	validateHeaders(config, result)
	validateRateLimit(config, result)

	if config.MaxDuration < 0 {
		result.fail("max_duration", config.MaxDuration, "max duration cannot be negative")
	}
	if config.ParseLimit < 0 {
		result.fail("parse_limit", config.ParseLimit, "parse limit cannot be negative")
	}

	validateStore(config, result)
	validateMetricsSettings(config, result)
	validateLogging(config, result)
	validateServer(config, result)

	return result
}

func validateProtocols(config *Config, result *ValidationResult) {
	if len(config.Protocols) == 0 {
		result.warn("no protocols configured, all protocols will be tried")
		return
	}
	seen := make(map[string]bool)
	for i, p := range config.Protocols {
		if !p.Valid() {
			result.fail(fmt.Sprintf("protocols[%d]", i), int(p), "unknown protocol")
			continue
		}
		if seen[p.String()] {
			result.warn("protocol %s listed more than once, later entries are ignored", p)
		}
		seen[p.String()] = true
	}
}

func validateJudges(config *Config, result *ValidationResult) {
	ip := config.Judges.IP
	if ip.HTTP == "" && ip.HTTPS == "" {
		result.fail("judges.ip", "", "at least one ip judge URL is required")
	}

	check := func(field, raw, scheme string) {
		if raw == "" {
			return
		}
		if err := validation.ValidateJudgeURL(raw, scheme); err != nil {
			result.fail(field, raw, err.Error())
		}
	}
	check("judges.ip.http", ip.HTTP, "http")
	check("judges.ip.https", ip.HTTPS, "https")
	check("judges.headers.http", config.Judges.Headers.HTTP, "http")
	check("judges.headers.https", config.Judges.Headers.HTTPS, "https")

	if ip.HTTP == "" {
		result.warn("no plain http ip judge, the plain pass will always fail")
	}
	if ip.HTTPS == "" {
		result.warn("no https ip judge, the tls pass will always fail")
	}
	if config.Judges.Headers.HTTP == "" && config.Judges.Headers.HTTPS == "" {
		result.warn("no header judge configured, anonymity grading relies on ip reports only")
	}
	if config.InsecureSkipVerify {
		result.warn("insecure_skip_verify is enabled, judge certificates are not checked")
	}
}

func validateHeaders(config *Config, result *ValidationResult) {
	for name, value := range config.DefaultHeaders {
		if strings.TrimSpace(name) == "" {
			result.fail("default_headers", name, "header name cannot be empty")
			continue
		}
		if strings.ContainsAny(name, " \t\r\n:") {
			result.fail("default_headers."+name, name, "header name contains invalid characters")
		}
		if strings.ContainsAny(value, "\r\n") {
			result.fail("default_headers."+name, value, "header value cannot contain newlines")
		}
		if strings.EqualFold(name, "Accept-Encoding") {
			result.warn("setting Accept-Encoding disables transparent decompression of judge responses")
		}
	}
	if config.UserAgent == "" {
		result.warn("user agent is empty, the Go default will be sent")
	}
}

func validateRateLimit(config *Config, result *ValidationResult) {
	if !config.RateLimit.Enabled {
		return
	}
	if config.RateLimit.PerSecond <= 0 {
		result.fail("rate_limit.per_second", config.RateLimit.PerSecond, "rate must be positive when rate limiting is enabled")
	}
	if config.RateLimit.Burst < 0 {
		result.fail("rate_limit.burst", config.RateLimit.Burst, "burst cannot be negative")
	} else if config.RateLimit.Burst == 0 {
		result.warn("rate limit burst is 0, a burst of 1 will be used")
	}
}

func validateStore(config *Config, result *ValidationResult) {
	dsn := config.Store.DSN
	if dsn == "" {
		return
	}
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		result.fail("store.dsn", dsn, "DSN must start with a scheme such as sqlite://")
		return
	}
	if !storeSchemes[strings.ToLower(scheme)] {
		result.fail("store.dsn", dsn, "scheme must be one of sqlite, postgres, redis")
	}
}

// validateMetricsSettings validates metrics configuration
func validateMetricsSettings(config *Config, result *ValidationResult) {
	if !config.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(config.Metrics.Addr); err != nil {
		result.fail("metrics.addr", config.Metrics.Addr, fmt.Sprintf("invalid listen address: %v", err))
	}
	if config.Metrics.Path == "" || !strings.HasPrefix(config.Metrics.Path, "/") {
		result.fail("metrics.path", config.Metrics.Path, "metrics path must start with /")
	}
}

func validateLogging(config *Config, result *ValidationResult) {
	switch strings.ToLower(config.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.warn("unknown log level %q, using info", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "", "text", "json", "pretty":
	default:
		result.fail("logging.format", config.Logging.Format, "format must be text, json or pretty")
	}
}

func validateServer(config *Config, result *ValidationResult) {
	if config.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(config.Server.Addr); err != nil {
			result.fail("server.addr", config.Server.Addr, fmt.Sprintf("invalid listen address: %v", err))
		}
	}
	if config.Server.CurrentIPTTL < 0 {
		result.fail("server.current_ip_ttl", config.Server.CurrentIPTTL, "ttl cannot be negative")
	} else if config.Server.CurrentIPTTL > 0 && config.Server.CurrentIPTTL < 10*time.Second {
		result.warn("current ip ttl of %s hits the ip judge very often", config.Server.CurrentIPTTL)
	}
	if config.Server.MaxBodyBytes < 0 {
		result.fail("server.max_body_bytes", config.Server.MaxBodyBytes, "max body bytes cannot be negative")
	}
}

// ValidateAndLoad loads a configuration file with environment overrides and
// validates the result.
func ValidateAndLoad(filename string) (*Config, *ValidationResult, error) {
	config, err := Load(filename)
	if err != nil {
		return nil, nil, err
	}
	return config, ValidateConfig(config), nil
}
