package app

import (
	"digestbot/internal/config"
	"digestbot/internal/sendqueue"
	"digestbot/internal/storage"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapSendQueueConfig(cfg *config.Config) (sendqueue.Config, error) {
	out := sendqueue.Config{
		AlertTarget: kit.ChatTarget{ChatID: cfg.Telegram.OperatorChatID},
	}
	sq := cfg.SendQueue
	if sq == nil {
		return out, nil
	}
	out.GlobalRatePerSec = sq.RatePerSec

	// An omitted field selects the default; an explicit zero turns the
	// feature off and maps to the queue's negative "off" sentinel.
	if sq.RetryMax != nil {
		out.RetryMax = *sq.RetryMax
		if out.RetryMax == 0 {
			out.RetryMax = -1
		}
	}

	var err error
	if out.PerChatCooldown, err = config.ParseDurationField(
		"send_queue.per_chat_cooldown", sq.PerChatCooldown); err != nil {
		return out, err
	}
	if sq.PerChatCooldown != "" && out.PerChatCooldown == 0 {
		out.PerChatCooldown = -1
	}
	if out.HeavyLoadDelayThreshold, err = config.ParseDurationField(
		"send_queue.heavy_load_delay", sq.HeavyLoadDelay); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField(
		"send_queue.retry_base", sq.RetryBase); err != nil {
		return out, err
	}
	if out.AlertDelayThreshold, err = config.ParseDurationField(
		"send_queue.alert_delay", sq.AlertDelay); err != nil {
		return out, err
	}
	if out.AlertCooldown, err = config.ParseDurationField(
		"send_queue.alert_cooldown", sq.AlertCooldown); err != nil {
		return out, err
	}
	return out, nil
}

func mapStorageConfig(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       sc.Driver,
		Path:         sc.Path,
		BusyTimeout:  busy,
		CompactEvery: sc.CompactEvery,
	}, nil
}
