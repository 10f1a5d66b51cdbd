package config

import (
	"fmt"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
)

// Validate checks every required field, matching the teacher's
// validateConfiguration idiom: missing required strings are errors, every
// default already has a stable value by the time Validate runs.
func (c *Config) Validate() error {
	if c.Bridge.Domain == "" {
		return configError("bridge.domain is required")
	}
	if c.Bridge.Homeserver == "" {
		return configError("bridge.homeserver is required")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return configError("database.dsn is required")
		}
	case "sqlite", "mysql":
		return bridgeerr.New(bridgeerr.NotImplemented, fmt.Errorf("database.driver %q is not implemented, only postgres is supported", c.Database.Driver))
	default:
		return configError(fmt.Sprintf("database.driver %q is not recognized", c.Database.Driver))
	}

	if c.Registration.ASToken == "" {
		return configError("registration.as_token is required")
	}
	if c.Registration.HSToken == "" {
		return configError("registration.hs_token is required")
	}

	if c.Zulip.SiteURL == "" {
		return configError("zulip.site_url is required")
	}
	if c.Zulip.BotEmail == "" {
		return configError("zulip.bot_email is required")
	}
	if c.Zulip.APIKey == "" {
		return configError("zulip.api_key is required")
	}
	if c.Zulip.Transport != "poll" && c.Zulip.Transport != "websocket" {
		return configError(fmt.Sprintf("zulip.transport %q must be \"poll\" or \"websocket\"", c.Zulip.Transport))
	}

	return nil
}

func configError(message string) error {
	return bridgeerr.New(bridgeerr.Config, fmt.Errorf("%s", message))
}
