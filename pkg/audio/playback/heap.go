package playback

// endEntry wraps a scheduled voice with the sample position at which it
// finishes. The seq field keeps callbacks for buffers ending on the same
// sample in scheduling order.
type endEntry struct {
	voice *timelineVoice
	end   int64
	seq   uint64
}

// endHeap implements [container/heap.Interface] as a min-heap ordered by end
// position (ascending), with FIFO tie-breaking on seq.
type endHeap []endEntry

func (h endHeap) Len() int { return len(h) }

// Less reports whether element i finishes before element j.
func (h endHeap) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}
	return h[i].seq < h[j].seq
}

func (h endHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *endHeap) Push(x any) {
	*h = append(*h, x.(endEntry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *endHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = endEntry{}
	*h = old[:n-1]
	return e
}
