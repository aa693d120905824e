// Package config handles TOML configuration loading and validation.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"nominatim-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/nominatim-proxy/config.toml",
	"configs/config.toml",
}

// Built-in defaults. They reproduce the gateway's behaviour when no config
// file exists and only PORT is set.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultBodyMaxBytes    = 10 * 1024 * 1024
	DefaultBaseURL         = "https://nominatim.openstreetmap.org"
	DefaultPathPrefix      = "/nominatim"
	DefaultUserAgent       = "jelajahin-app-proxy"
	DefaultTimeoutSeconds  = 60
	DefaultIdleConnections = 100
	DefaultMetricsPath     = "/metrics"
)

// Routes served by the gateway itself; the proxy prefix and metrics path
// must not overlap them.
const (
	HealthzPath = "/healthz"
	StatusPath  = "/proxy/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UserAgent string `kong:"help='User-Agent sent upstream (overrides config).',env='UPSTREAM_USER_AGENT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path, empty when running on defaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port" validate:"gte=0,lte=65535"` // 0 means "use default" (8080)
	BodyMaxBytes  int64  `toml:"body_max_bytes" validate:"gte=0"`
	ProxyProtocol bool   `toml:"proxy_protocol"`
}

// UpstreamConfig holds the forwarding rule and upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url" validate:"required,https_origin"`
	PathPrefix      string `toml:"path_prefix" validate:"required,path_prefix"`
	UserAgent       string `toml:"user_agent" validate:"required"`
	TimeoutSeconds  int    `toml:"timeout_seconds" validate:"gte=0"`
	IdleConnections int    `toml:"idle_connections" validate:"gte=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json text"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/nominatim-proxy/config.toml then configs/config.toml, and falls back to
// the built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	return load(cli, configSearchPaths)
}

func load(cli *CLI, searchPaths []string) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfigInPaths(searchPaths)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UserAgent != "" {
		c.Upstream.UserAgent = cli.UserAgent
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// setDefaults fills zero-valued fields with defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = DefaultBodyMaxBytes
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.PathPrefix == "" {
		c.Upstream.PathPrefix = DefaultPathPrefix
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = DefaultIdleConnections
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func (c *Config) validate() error {
	err := validateStruct(c)

	prefix := c.Upstream.PathPrefix
	for _, reserved := range []string{HealthzPath, StatusPath} {
		if overlaps(prefix, reserved) {
			err = multierr.Append(err, fmt.Errorf("upstream.path_prefix %q conflicts with reserved route %q", prefix, reserved))
		}
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, "/") {
			err = multierr.Append(err, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range []string{prefix, HealthzPath, StatusPath} {
			if overlaps(p, reserved) {
				err = multierr.Append(err, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return err
}

// overlaps reports whether one path equals the other or lies beneath it.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file in use, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// NewRoute builds the forwarding rule from the upstream section.
func NewRoute(cfg *Config) (model.Route, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return model.Route{}, fmt.Errorf("parse upstream base_url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return model.Route{
		Prefix:    cfg.Upstream.PathPrefix,
		Target:    *u,
		UserAgent: cfg.Upstream.UserAgent,
	}, nil
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
