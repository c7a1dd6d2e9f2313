package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(c *Config)
		expectValid  bool
		expectErrors int
		expectWarns  int
	}{
		{
			name:        "valid default config",
			mutate:      func(c *Config) {},
			expectValid: true,
		},
		{
			name:         "invalid timeout",
			mutate:       func(c *Config) { c.Timeout = -1 },
			expectErrors: 1,
		},
		{
			name:        "very high timeout",
			mutate:      func(c *Config) { c.Timeout = 600 },
			expectValid: true,
			expectWarns: 1,
		},
		{
			name:         "zero concurrency",
			mutate:       func(c *Config) { c.Concurrency = 0 },
			expectErrors: 1,
		},
		{
			name:         "unknown protocol",
			mutate:       func(c *Config) { c.Protocols = []proxy.Protocol{proxy.ProtocolHTTP, proxy.Protocol(42)} },
			expectErrors: 1,
		},
		{
			name:        "duplicate protocol",
			mutate:      func(c *Config) { c.Protocols = []proxy.Protocol{proxy.ProtocolHTTP, proxy.ProtocolHTTP} },
			expectValid: true,
			expectWarns: 1,
		},
		{
			name: "no ip judge",
			mutate: func(c *Config) {
				c.Judges.IP = proxy.JudgePair{}
			},
			expectErrors: 1,
			expectWarns:  2,
		},
		{
			name: "judge scheme mismatch",
			mutate: func(c *Config) {
				c.Judges.IP.HTTPS = "http://api.ipify.org"
			},
			expectErrors: 1,
		},
		{
			name: "relative header judge",
			mutate: func(c *Config) {
				c.Judges.Headers.HTTP = "/headers"
			},
			expectErrors: 1,
		},
		{
			name: "header judge skipped",
			mutate: func(c *Config) {
				c.Judges.Headers = proxy.JudgePair{}
			},
			expectValid: true,
			expectWarns: 1,
		},
		{
			name: "bad default header",
			mutate: func(c *Config) {
				c.DefaultHeaders["X Bad"] = "v"
			},
			expectErrors: 1,
		},
		{
			name: "rate limit without rate",
			mutate: func(c *Config) {
				c.RateLimit = RateLimitConfig{Enabled: true, PerSecond: 0, Burst: 1}
			},
			expectErrors: 1,
		},
		{
			name:         "negative max duration",
			mutate:       func(c *Config) { c.MaxDuration = -time.Second },
			expectErrors: 1,
		},
		{
			name:         "unsupported store",
			mutate:       func(c *Config) { c.Store.DSN = "mongodb://localhost" },
			expectErrors: 1,
		},
		{
			name:        "sqlite store",
			mutate:      func(c *Config) { c.Store.DSN = "sqlite://proxies.db" },
			expectValid: true,
		},
		{
			name: "metrics bad addr",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Addr = "9090"
			},
			expectErrors: 1,
		},
		{
			name:         "bad log format",
			mutate:       func(c *Config) { c.Logging.Format = "xml" },
			expectErrors: 1,
		},
		{
			name:        "unknown log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectValid: true,
			expectWarns: 1,
		},
		{
			name:         "negative ttl",
			mutate:       func(c *Config) { c.Server.CurrentIPTTL = -time.Minute },
			expectErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			result := ValidateConfig(cfg)
			if result.Valid != tt.expectValid {
				t.Errorf("Valid = %v, want %v (errors: %v)", result.Valid, tt.expectValid, result.Errors)
			}
			if len(result.Errors) != tt.expectErrors {
				t.Errorf("got %d errors, want %d: %v", len(result.Errors), tt.expectErrors, result.Errors)
			}
			if len(result.Warnings) != tt.expectWarns {
				t.Errorf("got %d warnings, want %d: %v", len(result.Warnings), tt.expectWarns, result.Warnings)
			}
		})
	}
}

func TestConfigValidationErrorMessage(t *testing.T) {
	err := ConfigValidationError{Field: "timeout", Value: -1, Message: "timeout must be positive"}
	msg := err.Error()
	for _, want := range []string{"timeout", "must be positive", "-1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestValidateAndLoad(t *testing.T) {
	path := writeConfig(t, "timeout: 0\nconcurrency: 5\n")

	cfg, result, err := ValidateAndLoad(path)
	if err != nil {
		t.Fatalf("ValidateAndLoad() error = %v", err)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if result.Valid {
		t.Error("expected zero timeout to be rejected")
	}
}
