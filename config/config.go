// Package config handles configuration loading for the library catalog.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the library catalog.
type Config struct {
	DBDriver      string
	DBDSN         string
	AdminName     string
	AdminLogin    string
	AdminPassword string
	LogLevel      string
	LogFormat     string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		DBDriver:      GetEnv("LIBRARY_DB_DRIVER", "sqlite3"),
		DBDSN:         GetEnv("LIBRARY_DB_DSN", "library.db"),
		AdminName:     GetEnv("LIBRARY_ADMIN_NAME", "Administrator"),
		AdminLogin:    GetEnv("LIBRARY_ADMIN_LOGIN", "admin"),
		AdminPassword: GetEnv("LIBRARY_ADMIN_PASSWORD", "admin123"),
		LogLevel:      GetEnv("LIBRARY_LOG_LEVEL", "info"),
		LogFormat:     GetEnv("LIBRARY_LOG_FORMAT", "text"),
	}
	return cfg, cfg.Validate()
}

// GetEnv returns the trimmed value of key, or fallback when it is unset or blank.
func GetEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres", "pgx", "mysql":
	default:
		return fmt.Errorf("unsupported LIBRARY_DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("LIBRARY_DB_DSN must not be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported LIBRARY_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LIBRARY_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to stderr.
func (c *Config) NewLogger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
