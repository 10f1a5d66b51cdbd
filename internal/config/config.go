// Package config loads and validates the bridge's YAML configuration file
// and generates the Matrix appservice registration file derived from it.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
)

// Config is the top-level shape of config.yaml. Validate checks the required
// fields of bridge, database, registration and zulip; it does not check that
// a section is present, so an absent room, limits or logging section simply
// takes the defaults from withDefaults.
type Config struct {
	Bridge       BridgeConfig       `yaml:"bridge"`
	Database     DatabaseConfig     `yaml:"database"`
	Registration RegistrationConfig `yaml:"registration"`
	Zulip        ZulipConfig        `yaml:"zulip"`
	Room         RoomConfig         `yaml:"room"`
	Limits       LimitsConfig       `yaml:"limits"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// BridgeConfig configures the Matrix-side identity of the bridge.
type BridgeConfig struct {
	// Domain is the Matrix server name ghosts and the bot are provisioned
	// on, e.g. "example.org" for @zulipbridge:example.org.
	Domain string `yaml:"domain"`
	// Homeserver is the Matrix client-server API base URL.
	Homeserver string `yaml:"homeserver"`
	// Owner is the MXID granted admin-level trust by the bridge (unused by
	// the core sync paths, reserved for future admin commands).
	Owner string `yaml:"owner"`
	// GhostPrefix overrides ghost.DefaultPrefix when non-empty.
	GhostPrefix string `yaml:"ghost_prefix"`
	// ListenAddress/ListenPort bind the appservice transaction HTTP server.
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	// AgeLimitMS drops inbound Matrix events older than this; <= 0 disables.
	AgeLimitMS int64 `yaml:"age_limit_ms"`
}

// DatabaseConfig selects and configures the Mapping Store backend.
type DatabaseConfig struct {
	// Driver must be "postgres"; "sqlite" and "mysql" are recognized but
	// rejected at validation time with NotImplemented.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RegistrationConfig configures appservice registration generation and the
// tokens the running bridge authenticates with.
type RegistrationConfig struct {
	ID              string `yaml:"id"`
	SenderLocalpart string `yaml:"sender_localpart"`
	ASToken         string `yaml:"as_token"`
	HSToken         string `yaml:"hs_token"`
	Path            string `yaml:"path"`
}

// ZulipConfig configures the Side-Z connection.
type ZulipConfig struct {
	SiteURL   string `yaml:"site_url"`
	BotEmail  string `yaml:"bot_email"`
	APIKey    string `yaml:"api_key"`
	// Transport selects "poll" (default) or "websocket" ingest.
	Transport string `yaml:"transport"`
	// PollIntervalSeconds configures the long-poll transport; default 5.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// RoomConfig configures the bridge's room creation policy.
type RoomConfig struct {
	// SplitByTopic creates one room per (stream, topic) pair instead of
	// one room per stream. Defaults to false.
	SplitByTopic bool `yaml:"split_by_topic"`
	// DefaultTopic is used when relaying an M message into a per-stream
	// room, which carries no Zulip topic of its own. Defaults to "general".
	DefaultTopic string `yaml:"default_topic"`
	// AliasPrefix is prepended to generated room alias localparts.
	AliasPrefix string `yaml:"alias_prefix"`
}

// LimitsConfig bounds database connections, processed-event retention and
// backfill.
type LimitsConfig struct {
	DBMaxConns        int `yaml:"db_max_conns"`
	RetentionDays     int `yaml:"retention_days"`
	MaxBackfillAmount int `yaml:"max_backfill_amount"`
}

// LoggingConfig configures the zerolog writer (internal/logging).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func (c *Config) withDefaults() {
	if c.Bridge.Homeserver == "" {
		c.Bridge.Homeserver = "http://localhost:8008"
	}
	if c.Bridge.GhostPrefix == "" {
		c.Bridge.GhostPrefix = "_zulip_"
	}
	if c.Bridge.ListenAddress == "" {
		c.Bridge.ListenAddress = "0.0.0.0"
	}
	if c.Bridge.ListenPort == 0 {
		c.Bridge.ListenPort = 29318
	}
	if c.Bridge.AgeLimitMS == 0 {
		c.Bridge.AgeLimitMS = 900000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Registration.ID == "" {
		c.Registration.ID = "zulipbridge"
	}
	if c.Registration.SenderLocalpart == "" {
		c.Registration.SenderLocalpart = "zulipbridge"
	}
	if c.Registration.Path == "" {
		c.Registration.Path = "registration.yaml"
	}
	if c.Zulip.Transport == "" {
		c.Zulip.Transport = "poll"
	}
	if c.Zulip.PollIntervalSeconds == 0 {
		c.Zulip.PollIntervalSeconds = 5
	}
	if c.Room.DefaultTopic == "" {
		c.Room.DefaultTopic = "general"
	}
	if c.Room.AliasPrefix == "" {
		c.Room.AliasPrefix = "zulip_"
	}
	if c.Limits.DBMaxConns == 0 {
		c.Limits.DBMaxConns = 10
	}
	if c.Limits.RetentionDays == 0 {
		c.Limits.RetentionDays = 7
	}
	if c.Limits.MaxBackfillAmount == 0 {
		c.Limits.MaxBackfillAmount = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// PollInterval returns Zulip.PollIntervalSeconds as a time.Duration.
func (z ZulipConfig) PollInterval() time.Duration {
	return time.Duration(z.PollIntervalSeconds) * time.Second
}

// AgeLimit returns Bridge.AgeLimitMS as a time.Duration.
func (b BridgeConfig) AgeLimit() time.Duration {
	return time.Duration(b.AgeLimitMS) * time.Millisecond
}

// RetentionPeriod returns Limits.RetentionDays as a time.Duration.
func (l LimitsConfig) RetentionPeriod() time.Duration {
	return time.Duration(l.RetentionDays) * 24 * time.Hour
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.IO, err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.YAML, err, "failed to parse config file")
	}

	cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
