package sendqueue

import (
	"container/heap"
	"testing"
	"time"

	kit "digestbot/internal/transport"
)

func TestEntryHeapOrdering(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var h entryHeap
	push := func(key string, readyAt time.Time, seq uint64) *entry {
		e := &entry{key: kit.ChatKey("chat-" + key), readyAt: readyAt, seq: seq}
		heap.Push(&h, e)
		return e
	}

	push("c", base.Add(2*time.Second), 3)
	push("a", base, 1)
	push("b", base.Add(time.Second), 2)
	// Same instant as "a" but admitted later: must pop after it.
	push("a2", base, 4)

	var got []string
	for h.Len() > 0 {
		e := heap.Pop(&h).(*entry)
		got = append(got, string(e.key))
		if e.heapIdx != -1 {
			t.Fatalf("popped entry keeps heapIdx %d", e.heapIdx)
		}
	}
	want := []string{"chat-a", "chat-a2", "chat-b", "chat-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestEntryHeapRemoveMiddle(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var h entryHeap
	entries := make([]*entry, 0, 5)
	for i := 0; i < 5; i++ {
		e := &entry{readyAt: base.Add(time.Duration(i) * time.Second), seq: uint64(i)}
		heap.Push(&h, e)
		entries = append(entries, e)
	}

	victim := entries[2]
	removed := h.remove(victim.heapIdx)
	if removed != victim {
		t.Fatal("remove returned the wrong entry")
	}
	if h.Len() != 4 {
		t.Fatalf("len = %d, want 4", h.Len())
	}

	// Remaining entries still pop in order and indices stay consistent.
	prev := time.Time{}
	for h.Len() > 0 {
		if h[0].heapIdx != 0 {
			t.Fatalf("root heapIdx = %d", h[0].heapIdx)
		}
		e := heap.Pop(&h).(*entry)
		if e == victim {
			t.Fatal("removed entry still in heap")
		}
		if e.readyAt.Before(prev) {
			t.Fatal("heap order violated after remove")
		}
		prev = e.readyAt
	}
}
