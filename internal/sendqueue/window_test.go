package sendqueue

import (
	"testing"
	"time"
)

func TestSlidingWindowAllowAndTrim(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newSlidingWindow(2, time.Second)

	if !w.allow(base) {
		t.Fatal("empty window must allow")
	}
	w.record(base)
	w.record(base.Add(100 * time.Millisecond))
	if w.allow(base.Add(200 * time.Millisecond)) {
		t.Fatal("saturated window must deny")
	}

	// Oldest stamp ages out exactly one interval later.
	if !w.allow(base.Add(time.Second)) {
		t.Fatal("window must free a slot after the interval")
	}
}

func TestSlidingWindowNextFree(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newSlidingWindow(2, time.Second)

	if got := w.nextFree(base); !got.Equal(base) {
		t.Fatalf("nextFree on empty window = %v, want %v", got, base)
	}

	w.record(base)
	w.record(base.Add(300 * time.Millisecond))
	at := base.Add(500 * time.Millisecond)
	want := base.Add(time.Second)
	if got := w.nextFree(at); !got.Equal(want) {
		t.Fatalf("nextFree = %v, want oldest+interval %v", got, want)
	}

	// Never returns a time in the past.
	late := base.Add(5 * time.Second)
	if got := w.nextFree(late); !got.Equal(late) {
		t.Fatalf("nextFree = %v, want now %v", got, late)
	}
}

func TestSlidingWindowReset(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newSlidingWindow(1, time.Second)
	w.record(base)
	if w.allow(base) {
		t.Fatal("expected window full")
	}
	w.reset()
	if !w.allow(base) {
		t.Fatal("reset must clear recorded stamps")
	}
}
