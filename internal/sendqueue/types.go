package sendqueue

import (
	"context"
	"errors"
	"time"

	kit "digestbot/internal/transport"
)

var (
	// ErrNotStarted is returned by Enqueue before Start (a caller-contract
	// violation, not a retryable condition).
	ErrNotStarted = errors.New("send queue not started")

	// ErrStopped rejects entries still pending when the queue is stopped.
	ErrStopped = errors.New("send queue stopped")

	// ErrCancelled rejects entries removed from the queue before dispatch;
	// their operation is never invoked.
	ErrCancelled = errors.New("send cancelled")
)

// Op is a queued send operation. The queue treats it as opaque: arguments are
// captured by the closure, classification of the returned error happens at
// the transport boundary (see transport.RateLimited, transport.Transient).
type Op func(ctx context.Context) (kit.MessageRef, error)

// Config tunes the send queue. Zero values fall back to defaults in Apply;
// PerChatCooldown and RetryMax take a negative value to mean explicitly off
// (no per-chat pacing, no retries), which is distinct from unset.
type Config struct {
	// GlobalRatePerSec bounds dispatches across all chats per trailing second.
	GlobalRatePerSec int
	// PerChatCooldown is the minimum interval between sends to one chat.
	PerChatCooldown time.Duration
	// HeavyLoadDelayThreshold: admissions expecting to wait longer than this
	// trigger a best-effort typing indicator toward the target chat.
	HeavyLoadDelayThreshold time.Duration

	RetryMax  int
	RetryBase time.Duration

	// AlertDelayThreshold: backlog alerts fire once the worst queued delay
	// exceeds this. 0 means twice the heavy-load threshold.
	AlertDelayThreshold time.Duration
	// AlertCooldown debounces operator alerts.
	AlertCooldown time.Duration
	// AlertTarget receives backlog alerts. Zero ChatID disables alerting.
	AlertTarget kit.ChatTarget
}

const windowInterval = time.Second

func (c Config) withDefaults() Config {
	if c.GlobalRatePerSec < 1 {
		c.GlobalRatePerSec = 25
	}
	switch {
	case c.PerChatCooldown < 0:
		c.PerChatCooldown = 0
	case c.PerChatCooldown == 0:
		c.PerChatCooldown = time.Second
	}
	if c.HeavyLoadDelayThreshold <= 0 {
		c.HeavyLoadDelayThreshold = 3 * time.Second
	}
	switch {
	case c.RetryMax < 0:
		c.RetryMax = 0
	case c.RetryMax == 0:
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.AlertDelayThreshold <= 0 {
		c.AlertDelayThreshold = 2 * c.HeavyLoadDelayThreshold
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Minute
	}
	return c
}

// Metrics is a snapshot of the queued (not yet dispatched) entries.
// In-flight dispatch latency intentionally does not count toward the backlog.
type Metrics struct {
	QueueDepth int
	// MaxDelay / AvgDelay are ready_at - now across queued entries,
	// floored at zero.
	MaxDelay time.Duration
	AvgDelay time.Duration
	// MaxDelayChat is the chat with the largest pending delay ("" when the
	// queue is empty).
	MaxDelayChat      kit.ChatKey
	MaxDelayChatDelay time.Duration
	SampledAt         time.Time
}

// entry is one pending or in-flight send.
//
// Invariants: readyAt only moves forward on reschedule; retries never exceeds
// RetryMax; res resolves at most once; a cancelled or rejected entry is never
// re-inserted.
type entry struct {
	op     Op
	key    kit.ChatKey
	target kit.ChatTarget
	meta   any

	res *Result

	retries    int
	enqueuedAt time.Time
	readyAt    time.Time

	seq     uint64
	heapIdx int
}
