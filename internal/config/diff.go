package config

import (
	"reflect"
	"strings"

	logx "digestbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.OperatorChatID != newCfg.Telegram.OperatorChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.operator_set", newCfg.Telegram.OperatorChatID != 0),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Send queue
	if !reflect.DeepEqual(oldCfg.SendQueue, newCfg.SendQueue) {
		changed = append(changed, "send_queue")
		if sq := newCfg.SendQueue; sq != nil {
			attrs = append(attrs,
				logx.Int("send_queue.rate_per_sec", sq.RatePerSec),
				logx.String("send_queue.per_chat_cooldown", sq.PerChatCooldown),
			)
			if sq.RetryMax != nil {
				attrs = append(attrs, logx.Int("send_queue.retry_max", *sq.RetryMax))
			}
		}
	}

	// Report
	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
		if r := newCfg.Report; r != nil {
			attrs = append(attrs,
				logx.Bool("report.enabled", r.Enabled),
				logx.String("report.schedule", strings.TrimSpace(r.Schedule)),
			)
		}
	}

	// Storage
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if st := newCfg.Storage; st != nil {
			attrs = append(attrs,
				logx.String("storage.driver", st.Driver),
				logx.Bool("storage.path_set", strings.TrimSpace(st.Path) != ""),
			)
		}
	}

	return changed, attrs
}
