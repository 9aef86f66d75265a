package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup by the app after merging env+file).
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Security     SecurityConfig     `yaml:"security"`
	Logging      LoggingConfig      `yaml:"logging"`
	Feed         FeedConfig         `yaml:"feed"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// ServerConfig holds http and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend []string `yaml:"backend"`
	} `yaml:"api_keys"`
	SigningKeys []string `yaml:"signing_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// FeedConfig tunes the live-notification broker.
type FeedConfig struct {
	// Buffer is the per-subscription event buffer; accepts plain counts
	// or humanized values ("256", "4k").
	Buffer string `yaml:"buffer"`
}

// BufferSize returns the parsed buffer size, or 0 when unset/invalid so
// the broker falls back to its default.
func (f FeedConfig) BufferSize() int {
	s := strings.TrimSpace(f.Buffer)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if v, err := humanize.ParseBytes(s); err == nil {
		return int(v)
	}
	return 0
}

// DirectoryConfig carries a static participant roster for deployments
// without an external directory service.
type DirectoryConfig struct {
	Members []DirectoryEntry `yaml:"members"`
}

type DirectoryEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// HousekeepingConfig holds configuration for the background sweeper.
type HousekeepingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// AbandonedAfter is how long a half-created thread may linger before
	// it is archived as abandoned ("24h", "2d").
	AbandonedAfter string `yaml:"abandoned_after"`
	// PurgeAfter is how long archived threads are retained before hard
	// deletion ("30d"). Empty disables purging.
	PurgeAfter   string `yaml:"purge_after"`
	BatchSize    int    `yaml:"batch_size"`
	BatchSleepMs int    `yaml:"batch_sleep_ms"`
	DryRun       bool   `yaml:"dry_run"`
}

// Addr returns the configured host:port string.
func (c *Config) Addr() string {
	host := strings.TrimSpace(c.Server.Address)
	if c.Server.Port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

// ParsePeriod parses a retention-style period: time.ParseDuration syntax
// plus a day suffix ("36h", "2d", "30d").
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q: %w", s, err)
		}
		return time.Duration(n * 24 * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return d, nil
}
