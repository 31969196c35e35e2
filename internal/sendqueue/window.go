package sendqueue

import "time"

// slidingWindow tracks dispatch timestamps over the trailing interval.
// Entries older than the interval are pruned lazily on access. Not
// goroutine-safe: all access happens under the service mutex.
type slidingWindow struct {
	interval time.Duration
	limit    int
	stamps   []time.Time // ascending
}

func newSlidingWindow(limit int, interval time.Duration) *slidingWindow {
	return &slidingWindow{interval: interval, limit: limit, stamps: make([]time.Time, 0, limit)}
}

func (w *slidingWindow) trim(now time.Time) {
	cut := 0
	for cut < len(w.stamps) && now.Sub(w.stamps[cut]) >= w.interval {
		cut++
	}
	if cut > 0 {
		n := copy(w.stamps, w.stamps[cut:])
		w.stamps = w.stamps[:n]
	}
}

// allow reports whether another dispatch fits in the window at now.
func (w *slidingWindow) allow(now time.Time) bool {
	w.trim(now)
	return len(w.stamps) < w.limit
}

// record notes a dispatch at now. Size stays bounded by limit because
// callers only record after allow.
func (w *slidingWindow) record(now time.Time) {
	w.trim(now)
	w.stamps = append(w.stamps, now)
}

// nextFree returns the earliest time a saturated window frees a slot: the
// oldest recorded timestamp plus the interval. With capacity available it
// returns now.
func (w *slidingWindow) nextFree(now time.Time) time.Time {
	w.trim(now)
	if len(w.stamps) < w.limit {
		return now
	}
	next := w.stamps[0].Add(w.interval)
	if next.Before(now) {
		return now
	}
	return next
}

func (w *slidingWindow) reset() {
	w.stamps = w.stamps[:0]
}
