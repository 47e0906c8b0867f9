package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the bridge configuration, loaded as defaults, then an
// optional TOML file, then environment overrides.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Registry RegistryConfig `toml:"registry"`
	Fetcher  FetcherConfig  `toml:"fetcher"`
	Upstream UpstreamConfig `toml:"upstream"`
	Logging  LoggingConfig  `toml:"logging"`
	CORS     CORSConfig     `toml:"cors"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RegistryConfig selects the alias store: a database when database_url
// is set, otherwise an in-memory table seeded from sources.
type RegistryConfig struct {
	DatabaseURL string            `toml:"database_url"`
	Sources     map[string]string `toml:"sources"`
}

// FetcherConfig controls document retrieval and the document cache.
type FetcherConfig struct {
	TimeoutSeconds  int  `toml:"timeout_seconds"`
	CacheTTLSeconds int  `toml:"cache_ttl_seconds"`
	CacheMaxEntries int  `toml:"cache_max_entries"`
	AllowURLSources bool `toml:"allow_url_sources"`
}

// UpstreamConfig bounds invocations against target APIs.
type UpstreamConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// CORSConfig lists allowed origins; "*" or an empty list allows all.
type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Registry: RegistryConfig{
			Sources: map[string]string{},
		},
		Fetcher: FetcherConfig{
			TimeoutSeconds:  20,
			CacheTTLSeconds: 300,
			CacheMaxEntries: 128,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds:   30,
			MaxResponseBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}

// LoadConfig loads configuration with priority: defaults -> file ->
// env. An empty path falls back to MCPBRIDGE_CONFIG; no file at all is
// fine.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path == "" {
		path = os.Getenv("MCPBRIDGE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies MCPBRIDGE_* environment overrides. PORT is
// honored as a fallback for MCPBRIDGE_PORT.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("MCPBRIDGE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	port := os.Getenv("MCPBRIDGE_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Registry.DatabaseURL = dbURL
	}
	if level := os.Getenv("MCPBRIDGE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("MCPBRIDGE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if allow := os.Getenv("MCPBRIDGE_ALLOW_URL_SOURCES"); allow != "" {
		if b, err := strconv.ParseBool(allow); err == nil {
			cfg.Fetcher.AllowURLSources = b
		}
	}
	if origins := os.Getenv("MCPBRIDGE_CORS_ORIGINS"); origins != "" {
		cfg.CORS.Origins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORS.Origins = append(cfg.CORS.Origins, origin)
			}
		}
	}
}

// Addr returns the listener address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// FetchTimeout returns the document fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return secondsOr(c.Fetcher.TimeoutSeconds, 20*time.Second)
}

// CacheTTL returns the document cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Fetcher.CacheTTLSeconds) * time.Second
}

// UpstreamTimeout returns the invocation timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return secondsOr(c.Upstream.TimeoutSeconds, 30*time.Second)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// MaskSensitive masks credential-bearing URLs for logging.
func MaskSensitive(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***@" + url[i+1:]
		}
	}
	return url
}
