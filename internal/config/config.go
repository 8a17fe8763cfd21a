// Package config reads Tooty's process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeLocal  = "local"  // screen in-process
	ModeRemote = "remote" // screen through the moderator over NATS
)

// Config is the union of settings used by the gateway and the moderator.
type Config struct {
	ListenAddr        string
	MetricsAddr       string
	NATSURL           string
	RedisAddr         string
	DatabaseURL       string
	BlocklistFile     string // empty means the built-in list
	ModerationMode    string
	ModerationTimeout time.Duration
	RecentMessages    int
	MaxConnections    int
	LogLevel          string
}

// Defaults returns the configuration used when no variable is set.
func Defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		MetricsAddr:       ":9090",
		NATSURL:           "nats://localhost:4222",
		RedisAddr:         "localhost:6379",
		DatabaseURL:       "postgres://localhost:5432/tooty?sslmode=disable",
		ModerationMode:    ModeLocal,
		ModerationTimeout: 2 * time.Second,
		RecentMessages:    20,
		MaxConnections:    100000,
		LogLevel:          "info",
	}
}

// Load reads envFiles (missing files are skipped; variables already set in
// the environment win) and then the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Defaults()

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("NATS_URL", &c.NATSURL)
	str("REDIS_ADDR", &c.RedisAddr)
	str("DATABASE_URL", &c.DatabaseURL)
	str("BLOCKLIST_FILE", &c.BlocklistFile)
	str("MODERATION_MODE", &c.ModerationMode)
	str("LOG_LEVEL", &c.LogLevel)

	if v := getenv("MODERATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: MODERATION_TIMEOUT: invalid duration %q", v)
		}
		c.ModerationTimeout = d
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RECENT_MESSAGES", &c.RecentMessages},
		{"MAX_CONNECTIONS", &c.MaxConnections},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: %s: invalid positive integer %q", i.key, v)
		}
		*i.dst = n
	}

	if c.ModerationMode != ModeLocal && c.ModerationMode != ModeRemote {
		return Config{}, fmt.Errorf("config: MODERATION_MODE must be %q or %q, got %q",
			ModeLocal, ModeRemote, c.ModerationMode)
	}
	return c, nil
}
