package storage

import (
	"context"
	"errors"
	"time"
)

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrDisabled is returned when the selected driver is not compiled in.
var ErrDisabled = errors.New("storage: driver disabled in this build")

// Config selects and tunes a storage backend.
type Config struct {
	// Driver is "file" or "sqlite". Empty disables storage.
	Driver string `json:"driver"`
	// Path is a file prefix (file driver) or database path (sqlite driver).
	Path string `json:"path"`
	// BusyTimeout bounds sqlite lock waits. Ignored by the file driver.
	BusyTimeout time.Duration `json:"busy_timeout"`
	// CompactEvery triggers journal compaction after this many appended
	// subscription entries. Ignored by the sqlite driver.
	CompactEvery int `json:"compact_every"`
}

// AuditEntry is one row of the send/command audit trail.
type AuditEntry struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	// Action is a short verb: "send", "edit", "sub", "unsub", "alert".
	Action string `json:"action"`
	// Target names the affected object, e.g. a channel slug.
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	// Waited is how long the operation sat queued before dispatch, in
	// milliseconds. Zero for direct sends.
	WaitedMS int64 `json:"waited_ms,omitempty"`
	Retries  int   `json:"retries,omitempty"`
}

// Store is the persistence surface used by the router and report services.
type Store interface {
	// Subscriptions returns the channels a chat is subscribed to, sorted.
	Subscriptions(ctx context.Context, chatID int64) ([]string, error)
	// AddSubscription subscribes a chat to a channel. Returns false if the
	// subscription already existed.
	AddSubscription(ctx context.Context, chatID int64, channel string) (bool, error)
	// RemoveSubscription unsubscribes a chat. Returns false if there was no
	// such subscription.
	RemoveSubscription(ctx context.Context, chatID int64, channel string) (bool, error)
	// Subscribers returns every chat subscribed to the channel.
	Subscribers(ctx context.Context, channel string) ([]int64, error)
	// AppendAudit records one audit entry. Append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
