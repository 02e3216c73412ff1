package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field consistency before a config is committed.
// Called at startup and by the reload watcher (rejected configs keep the
// previous one live).
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when file logging is enabled")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("scheduler.sweep_interval", c.Scheduler.SweepInterval); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Notifier.Sink)) {
	case "", "log":
	case "telegram":
		if c.Notifier.Enabled && strings.TrimSpace(c.Notifier.TelegramToken) == "" {
			return fmt.Errorf("notifier.telegram_token is required for the telegram sink")
		}
	default:
		return fmt.Errorf("notifier.sink: unknown sink %q", c.Notifier.Sink)
	}
	for _, f := range []struct{ name, raw string }{
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
	} {
		if _, err := ParseDurationField(f.name, f.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Knowledge.Mode)) {
	case "", "none":
	case "static":
		if strings.TrimSpace(c.Knowledge.Dir) == "" {
			return fmt.Errorf("knowledge.dir is required for static mode")
		}
	case "http":
		if strings.TrimSpace(c.Knowledge.BaseURL) == "" {
			return fmt.Errorf("knowledge.base_url is required for http mode")
		}
	default:
		return fmt.Errorf("knowledge.mode: unknown mode %q", c.Knowledge.Mode)
	}
	if _, err := ParseDurationField("knowledge.timeout", c.Knowledge.Timeout); err != nil {
		return err
	}

	return nil
}
