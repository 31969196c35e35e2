package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// SendQueue controls outbound send pacing. If omitted, built-in
	// defaults apply.
	SendQueue *SendQueueConfig `json:"send_queue,omitempty"`

	// Report controls the periodic queue status report to the operator.
	Report *ReportConfig `json:"report,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OperatorChatID receives backlog alerts and status reports.
	OperatorChatID int64 `json:"operator_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SendQueueConfig tunes outbound pacing and retry behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted):
//   - rate_per_sec: 25
//   - per_chat_cooldown: "1s"
//   - heavy_load_delay: "3s"
//   - retry_max: 3
//   - retry_base: "500ms"
//   - alert_delay: 2 * heavy_load_delay
//   - alert_cooldown: "5m"
//
// An explicit per_chat_cooldown of "0s" disables per-chat pacing, and an
// explicit retry_max of 0 disables retries; both are distinct from leaving
// the field out.
type SendQueueConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	PerChatCooldown string `json:"per_chat_cooldown,omitempty"`
	HeavyLoadDelay  string `json:"heavy_load_delay,omitempty"`
	RetryMax        *int   `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	AlertDelay      string `json:"alert_delay,omitempty"`
	AlertCooldown   string `json:"alert_cooldown,omitempty"`
}

// ReportConfig controls the scheduled queue status report.
//
// Schedule accepts a 5-field cron expression or an "@every <duration>"
// form, e.g. "0 9 * * *" or "@every 6h".
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	// Timezone for cron expressions, e.g. "Europe/Berlin". Default UTC.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./digestbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// CompactEvery compacts the subscription journal after this many writes
	// (file driver only).
	CompactEvery int `json:"compact_every,omitempty"`
}
