// Package config loads service settings from SLOTENGINE_* environment
// variables and an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/availability-engine/internal/persistence/sqlite/migration"
)

// EnvConfigFile names the YAML file overlaid on the environment.
const EnvConfigFile = "SLOTENGINE_CONFIG_FILE"

// Config captures the settings of the slot engine service.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	DatabasePath    string        `yaml:"database_path"`
	FanoutLimit     int           `yaml:"fanout_limit"`
	NATSURL         string        `yaml:"nats_url"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		DatabasePath:    "slotengine.db",
		FanoutLimit:     8,
		CacheSize:       1024,
		CacheTTL:        time.Minute,
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads the environment, then overlays the YAML file at path. An empty
// path falls back to SLOTENGINE_CONFIG_FILE. Every problem found is reported
// in one error.
func Load(path string) (Config, error) {
	cfg := Default()
	var problems []string

	envString("SLOTENGINE_HTTP_ADDR", &cfg.HTTPAddr)
	envString("SLOTENGINE_DB_PATH", &cfg.DatabasePath)
	envString("SLOTENGINE_NATS_URL", &cfg.NATSURL)
	envString("SLOTENGINE_LOG_LEVEL", &cfg.LogLevel)
	envString("SLOTENGINE_LOG_FORMAT", &cfg.LogFormat)
	problems = envInt("SLOTENGINE_FANOUT_LIMIT", &cfg.FanoutLimit, problems)
	problems = envInt("SLOTENGINE_CACHE_SIZE", &cfg.CacheSize, problems)
	problems = envDuration("SLOTENGINE_CACHE_TTL", &cfg.CacheTTL, problems)
	problems = envDuration("SLOTENGINE_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, problems)

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			problems = append(problems, err.Error())
		}
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return Config{}, errors.New("config: " + strings.Join(problems, "; "))
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() []string {
	var problems []string
	if strings.TrimSpace(c.HTTPAddr) == "" {
		problems = append(problems, "http address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		problems = append(problems, "database path is required")
	}
	if c.FanoutLimit <= 0 {
		problems = append(problems, "fanout limit must be positive")
	}
	if c.CacheSize < 0 {
		problems = append(problems, "cache size must not be negative")
	}
	if c.CacheTTL < 0 {
		problems = append(problems, "cache ttl must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "shutdown timeout must be positive")
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	return problems
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return level, nil
}

// SQLite returns connection settings for DatabasePath.
func (c Config) SQLite() migration.SQLiteConfig {
	return migration.DefaultSQLiteConfig(c.DatabasePath)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, problems []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return problems
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return append(problems, fmt.Sprintf("%s: not an integer", key))
	}
	*dst = n
	return problems
}

func envDuration(key string, dst *time.Duration, problems []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return problems
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return append(problems, fmt.Sprintf("%s: not a duration", key))
	}
	*dst = d
	return problems
}
