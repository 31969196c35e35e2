package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the parts of the config that would fail at wire-up time.
// It is used both at startup and as the Watch() validator, so a bad edit
// never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	if sq := cfg.SendQueue; sq != nil {
		if sq.RatePerSec < 0 {
			return errors.New("send_queue.rate_per_sec must be >= 0")
		}
		if sq.RetryMax != nil && *sq.RetryMax < 0 {
			return errors.New("send_queue.retry_max must be >= 0")
		}
		for _, f := range []struct{ path, raw string }{
			{"send_queue.per_chat_cooldown", sq.PerChatCooldown},
			{"send_queue.heavy_load_delay", sq.HeavyLoadDelay},
			{"send_queue.retry_base", sq.RetryBase},
			{"send_queue.alert_delay", sq.AlertDelay},
			{"send_queue.alert_cooldown", sq.AlertCooldown},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	if r := cfg.Report; r != nil && r.Enabled {
		if strings.TrimSpace(r.Schedule) == "" {
			return errors.New("report.schedule is required when report.enabled")
		}
		if tz := strings.TrimSpace(r.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("report.timezone: %w", err)
			}
		}
	}

	if st := cfg.Storage; st != nil && strings.TrimSpace(st.Driver) != "" {
		if strings.TrimSpace(st.Path) == "" {
			return errors.New("storage.path is required")
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}

	return nil
}
