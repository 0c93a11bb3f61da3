package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/graphrest/internal/errors"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Validate checks the configuration for settings the services cannot start with.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateServer(result)
	c.validateUpstreams(result)
	c.validateStorage(result)
	c.validateLog(result)

	return result
}

// ValidateOrError is Validate folded into a single config error.
func (c *Config) ValidateOrError() error {
	result := c.Validate()
	if result.HasErrors() {
		return errors.ConfigError(strings.TrimSpace(result.Error()))
	}
	return nil
}

func (c *Config) validateServer(result *ValidationResult) {
	if c.Server.OrientAddr == "" {
		result.AddError("server.orient_addr is required")
	}
	if c.Server.TigerAddr == "" {
		result.AddError("server.tiger_addr is required")
	}
	if c.Server.OrientAddr != "" && c.Server.OrientAddr == c.Server.TigerAddr {
		result.AddError("server.orient_addr and server.tiger_addr must differ (both %s)", c.Server.OrientAddr)
	}
	if c.Server.ShutdownTimeout <= 0 {
		result.AddWarning("server.shutdown_timeout is not positive, shutdown will not wait for in-flight requests")
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			result.AddError("server.cors_origins entry %q is not an origin URL", origin)
		}
	}
}

func (c *Config) validateUpstreams(result *ValidationResult) {
	if c.Orient.DefaultHost == "" {
		result.AddError("orient.default_host is required")
	}
	if c.Orient.DefaultPort <= 0 || c.Orient.DefaultPort > 65535 {
		result.AddError("orient.default_port %d is out of range", c.Orient.DefaultPort)
	}

	if c.Tiger.DefaultHost == "" {
		result.AddError("tiger.default_host is required")
	}
	if c.Tiger.DefaultGraph == "" {
		result.AddError("tiger.default_graph is required")
	}
	if c.Tiger.RESTPPPort <= 0 || c.Tiger.RESTPPPort > 65535 {
		result.AddError("tiger.restpp_port %d is out of range", c.Tiger.RESTPPPort)
	}
	if c.Tiger.GSQLPort <= 0 || c.Tiger.GSQLPort > 65535 {
		result.AddError("tiger.gsql_port %d is out of range", c.Tiger.GSQLPort)
	}

	if c.Upstream.RateLimit < 0 {
		result.AddError("upstream.rate_limit must not be negative")
	}
	if c.Upstream.RateLimit > 0 && c.Upstream.Burst < 1 {
		result.AddError("upstream.burst must be at least 1 when rate_limit is set")
	}

	if c.Registry.TTL < 0 {
		result.AddError("registry.ttl must not be negative")
	}
	if c.Registry.TTL > 0 && c.Registry.SweepInterval <= 0 {
		result.AddWarning("registry.sweep_interval is not positive, expired connections are only dropped on access")
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Type {
	case "", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			result.AddError("storage.sqlite_path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn is required for postgres storage")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			result.AddError("storage.redis_addr is required for redis storage")
		}
	case "bolt":
		if c.Storage.BoltPath == "" {
			result.AddError("storage.bolt_path is required for bolt storage")
		}
	default:
		result.AddError("unknown storage.type %q (want memory, sqlite, postgres, redis or bolt)", c.Storage.Type)
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		result.AddError("unknown log.level %q", c.Log.Level)
	}
}
