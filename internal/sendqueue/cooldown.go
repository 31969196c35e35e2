package sendqueue

import (
	"time"

	kit "digestbot/internal/transport"
)

// cooldownTracker remembers the last dispatch time per chat. Timestamps are
// monotonically non-decreasing per key. Not goroutine-safe: all access
// happens under the service mutex.
type cooldownTracker struct {
	cooldown time.Duration
	last     map[kit.ChatKey]time.Time
}

func newCooldownTracker(cooldown time.Duration) *cooldownTracker {
	return &cooldownTracker{cooldown: cooldown, last: map[kit.ChatKey]time.Time{}}
}

// nextAllowed returns the earliest instant the chat may be dispatched to
// again; never earlier than now.
func (c *cooldownTracker) nextAllowed(key kit.ChatKey, now time.Time) time.Time {
	last, ok := c.last[key]
	if !ok {
		return now
	}
	next := last.Add(c.cooldown)
	if next.Before(now) {
		return now
	}
	return next
}

func (c *cooldownTracker) record(key kit.ChatKey, now time.Time) {
	if prev, ok := c.last[key]; ok && prev.After(now) {
		return
	}
	c.last[key] = now
}

func (c *cooldownTracker) reset() {
	c.last = map[kit.ChatKey]time.Time{}
}
