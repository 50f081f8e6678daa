// Package config loads gateway settings from COHERENCE_* environment
// variables, optionally layered over a TOML file named by COHERENCE_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix is prepended to every setting name to form its variable.
const EnvPrefix = "COHERENCE_"

// Config holds the settings for `cn serve`. The file key of each setting is
// the lowercased variable name without the prefix (e.g. http_addr).
type Config struct {
	DatabaseURL string // COHERENCE_DATABASE_URL (required)
	HTTPAddr    string // COHERENCE_HTTP_ADDR (default ":8080")
	GRPCAddr    string // COHERENCE_GRPC_ADDR (default ":9090"; set empty to disable)
	NATSURL     string // COHERENCE_NATS_URL (optional, empty = single instance)
	AdminToken  string // COHERENCE_ADMIN_TOKEN (optional, empty = admin surface off)
	RedisURL    string // COHERENCE_REDIS_URL (required by any redis store)

	ReplayStore       string        // COHERENCE_REPLAY_STORE memory|redis|off (default memory)
	RateLimitStore    string        // COHERENCE_RATE_LIMIT_STORE postgres|redis|memory (default postgres)
	RateLimitDefault  int           // COHERENCE_RATE_LIMIT_DEFAULT (default 60)
	RateLimitFailOpen bool          // COHERENCE_RATE_LIMIT_FAIL_OPEN (default true)
	SSEKeepalive      time.Duration // COHERENCE_SSE_KEEPALIVE (default 30s)
	MaxBodyBytes      int64         // COHERENCE_MAX_BODY_BYTES (default 1 MiB)

	LogLevel  string // COHERENCE_LOG_LEVEL debug|info|warn|error (default info)
	LogFormat string // COHERENCE_LOG_FORMAT text|json (default text)

	// Archive settings
	ArchiveInterval   time.Duration // COHERENCE_ARCHIVE_INTERVAL (default 5m; 0 = disabled)
	ArchiveS3Bucket   string        // COHERENCE_ARCHIVE_S3_BUCKET (enables the archive when set)
	ArchiveS3Prefix   string        // COHERENCE_ARCHIVE_S3_PREFIX (default "coherence/events")
	ArchiveS3Region   string        // COHERENCE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Endpoint string        // COHERENCE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
}

// ArchiveEnabled reports whether the event archive should run.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != "" && c.ArchiveInterval > 0
}

// settings are the recognised names, without the prefix.
var settings = []string{
	"DATABASE_URL", "HTTP_ADDR", "GRPC_ADDR", "NATS_URL", "ADMIN_TOKEN", "REDIS_URL",
	"REPLAY_STORE", "RATE_LIMIT_STORE", "RATE_LIMIT_DEFAULT", "RATE_LIMIT_FAIL_OPEN",
	"SSE_KEEPALIVE", "MAX_BODY_BYTES", "LOG_LEVEL", "LOG_FORMAT",
	"ARCHIVE_INTERVAL", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_PREFIX", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT",
}

// source resolves a setting from the environment first, then the file.
type source struct {
	file map[string]string
}

func (s source) lookup(name string) (string, bool) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		return v, true
	}
	v, ok := s.file[strings.ToLower(name)]
	return v, ok
}

func (s source) orDefault(name, fallback string) string {
	if v, ok := s.lookup(name); ok && v != "" {
		return v
	}
	return fallback
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	c := &Config{
		DatabaseURL:       src.orDefault("DATABASE_URL", ""),
		HTTPAddr:          src.orDefault("HTTP_ADDR", ":8080"),
		GRPCAddr:          ":9090",
		NATSURL:           src.orDefault("NATS_URL", ""),
		AdminToken:        src.orDefault("ADMIN_TOKEN", ""),
		RedisURL:          src.orDefault("REDIS_URL", ""),
		ReplayStore:       strings.ToLower(src.orDefault("REPLAY_STORE", "memory")),
		RateLimitStore:    strings.ToLower(src.orDefault("RATE_LIMIT_STORE", "postgres")),
		LogLevel:          strings.ToLower(src.orDefault("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(src.orDefault("LOG_FORMAT", "text")),
		ArchiveS3Bucket:   src.orDefault("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Prefix:   src.orDefault("ARCHIVE_S3_PREFIX", "coherence/events"),
		ArchiveS3Region:   src.orDefault("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Endpoint: src.orDefault("ARCHIVE_S3_ENDPOINT", ""),
	}
	// An explicitly empty GRPC_ADDR disables the gRPC listener.
	if v, ok := src.lookup("GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}

	var err error
	if c.RateLimitDefault, err = parseInt(src, "RATE_LIMIT_DEFAULT", 60); err != nil {
		return nil, err
	}
	if c.RateLimitFailOpen, err = parseBool(src, "RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return nil, err
	}
	if c.SSEKeepalive, err = parseDuration(src, "SSE_KEEPALIVE", 30*time.Second); err != nil {
		return nil, err
	}
	maxBody, err := parseInt(src, "MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	c.MaxBodyBytes = int64(maxBody)
	if c.ArchiveInterval, err = parseDuration(src, "ARCHIVE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required", EnvPrefix)
	}
	switch c.ReplayStore {
	case "memory", "redis", "off":
	default:
		return fmt.Errorf("%sREPLAY_STORE: unknown store %q (want memory, redis or off)", EnvPrefix, c.ReplayStore)
	}
	switch c.RateLimitStore {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("%sRATE_LIMIT_STORE: unknown store %q (want postgres, redis or memory)", EnvPrefix, c.RateLimitStore)
	}
	if (c.ReplayStore == "redis" || c.RateLimitStore == "redis") && c.RedisURL == "" {
		return fmt.Errorf("%sREDIS_URL is required when a redis store is selected", EnvPrefix)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%sLOG_LEVEL: unknown level %q", EnvPrefix, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%sLOG_FORMAT: unknown format %q (want text or json)", EnvPrefix, c.LogFormat)
	}
	if c.RateLimitDefault <= 0 {
		return fmt.Errorf("%sRATE_LIMIT_DEFAULT must be positive", EnvPrefix)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%sMAX_BODY_BYTES must be positive", EnvPrefix)
	}
	if c.SSEKeepalive <= 0 {
		return fmt.Errorf("%sSSE_KEEPALIVE must be positive", EnvPrefix)
	}
	return nil
}

// readFile decodes a flat TOML table of settings. Unknown keys are errors.
func readFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("%sCONFIG: %w", EnvPrefix, err)
	}
	known := make(map[string]bool, len(settings))
	for _, s := range settings {
		known[strings.ToLower(s)] = true
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if !known[k] {
			return nil, fmt.Errorf("%sCONFIG: %s: unknown setting %q", EnvPrefix, path, k)
		}
		switch v.(type) {
		case string, int64, bool, float64:
			out[k] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("%sCONFIG: %s: setting %q must be a scalar", EnvPrefix, path, k)
		}
	}
	return out, nil
}

func parseInt(src source, name string, fallback int) (int, error) {
	v := src.orDefault(name, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return n, nil
}

func parseBool(src source, name string, fallback bool) (bool, error) {
	v := src.orDefault(name, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return b, nil
}

func parseDuration(src source, name string, fallback time.Duration) (time.Duration, error) {
	v := src.orDefault(name, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return d, nil
}
