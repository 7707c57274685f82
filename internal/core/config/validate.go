package config

import (
	"fmt"
	"net/url"

	"github.com/termqapp/termq/internal/core/styles"
	"github.com/termqapp/termq/internal/mqtt/session"
)

// Validate checks the configuration for values that would fail later in a
// less obvious place.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "mqtts", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("broker.url: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("broker.url: missing host in %q", c.Broker.URL)
	}

	if c.Session.BackoffCap < c.Session.BackoffBase {
		return fmt.Errorf("session.backoff_cap (%s) below session.backoff_base (%s)",
			c.Session.BackoffCap.Std(), c.Session.BackoffBase.Std())
	}

	if _, ok := styles.GetPalette(c.TUI.Theme); !ok {
		return fmt.Errorf("tui.theme: unknown theme %q (available: %v)", c.TUI.Theme, styles.ThemeNames())
	}

	for _, sub := range c.Subscriptions {
		if err := session.ValidateFilter(sub.Filter); err != nil {
			return fmt.Errorf("subscriptions: %w", err)
		}
		if sub.QoS > 2 {
			return fmt.Errorf("subscriptions: %q: invalid qos %d", sub.Filter, sub.QoS)
		}
	}

	return nil
}
