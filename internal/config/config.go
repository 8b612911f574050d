// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Watch backends.
const (
	WatchFsnotify = "fsnotify"
	WatchPoll     = "poll"
)

// Config holds server and launcher configuration.
type Config struct {
	// Target file. Empty means no file was given.
	FilePath string

	// Server
	Host        string
	Port        int
	MetricsAddr string
	StaticDir   string

	// Logging
	LogLevel  string
	LogFormat string

	// Watch feed
	WatchMode     string
	WatchInterval time.Duration
	WatchDebounce time.Duration

	// Launcher readiness probe
	ReadyDelay    time.Duration
	ReadyInterval time.Duration
	ReadyAttempts int
	ReadyTimeout  time.Duration
}

// Load reads configuration from environment variables with defaults. A
// .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Host:          envOr("JSONEDIT_HOST", "localhost"),
		Port:          envInt("JSONEDIT_PORT", 3000),
		MetricsAddr:   envOr("JSONEDIT_METRICS_ADDR", ""),
		StaticDir:     envOr("JSONEDIT_STATIC_DIR", "."),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "console"),
		WatchMode:     envOr("JSONEDIT_WATCH_MODE", WatchFsnotify),
		WatchInterval: envDuration("JSONEDIT_WATCH_INTERVAL", time.Second),
		WatchDebounce: envDuration("JSONEDIT_WATCH_DEBOUNCE", 50*time.Millisecond),
		ReadyDelay:    envDuration("JSONEDIT_READY_DELAY", time.Second),
		ReadyInterval: envDuration("JSONEDIT_READY_INTERVAL", 500*time.Millisecond),
		ReadyAttempts: envInt("JSONEDIT_READY_ATTEMPTS", 20),
		ReadyTimeout:  envDuration("JSONEDIT_READY_TIMEOUT", 2*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyArgs applies the server's positional arguments: [path] [port].
// Both are optional. The path is made absolute.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("too many arguments: want at most [path] [port], got %d", len(args))
	}
	if len(args) >= 1 && args[0] != "" {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve path %q: %w", args[0], err)
		}
		c.FilePath = abs
	}
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		c.Port = port
	}
	return c.validate()
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the URL a browser uses to reach the server.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d/", c.Host, c.Port)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", c.Port)
	}
	if c.WatchMode != WatchFsnotify && c.WatchMode != WatchPoll {
		return fmt.Errorf("JSONEDIT_WATCH_MODE must be %q or %q, got %q", WatchFsnotify, WatchPoll, c.WatchMode)
	}
	if c.ReadyAttempts < 1 {
		return fmt.Errorf("JSONEDIT_READY_ATTEMPTS must be positive, got %d", c.ReadyAttempts)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
