package sendqueue

import "container/heap"

// entryHeap is a min-heap ordered by (readyAt, seq). The seq tie-break keeps
// same-instant admissions stable in arrival order.
//
// heapIdx is maintained by Swap so a queued entry can be removed in O(log n)
// via heap.Remove (used by Result.Cancel). heapIdx is -1 while an entry is
// not in the heap.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // allow GC
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// remove removes the entry at position idx and re-heapifies in O(log n).
func (h *entryHeap) remove(idx int) *entry {
	return heap.Remove(h, idx).(*entry)
}
