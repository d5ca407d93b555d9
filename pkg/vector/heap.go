package vector

// Array-backed binary heaps used by searchLayer: a min-heap drives the
// expansion frontier (always visit the best-scoring unexplored candidate
// next) and a max-heap bounds the result set (always know the worst
// candidate currently kept, to evict it once a better one is found).
// Split into two heaps with a deterministic tie-break since weighted
// scores collide often on near-duplicate or synthetic test vectors.

type pqItem struct {
	id    string
	score float32
}

func less(a, b pqItem) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.id < b.id
}

type minHeap struct {
	items []pqItem
}

func newMinHeap() *minHeap { return &minHeap{} }

func (h *minHeap) len() int { return len(h.items) }

func (h *minHeap) push(item pqItem) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !less(h.items[i], h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *minHeap) pop() (pqItem, bool) {
	if len(h.items) == 0 {
		return pqItem{}, false
	}
	top := h.items[0]
	n := len(h.items) - 1
	h.items[0] = h.items[n]
	h.items = h.items[:n]
	if n > 0 {
		h.bubbleDown(0)
	}
	return top, true
}

func (h *minHeap) bubbleDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && less(h.items[left], h.items[smallest]) {
			smallest = left
		}
		if right < n && less(h.items[right], h.items[smallest]) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// maxHeap keeps the worst (highest weighted score) candidate at the root
// so it can be evicted in O(log n) once the result set is full.
type maxHeap struct {
	items []pqItem
}

func newMaxHeap() *maxHeap { return &maxHeap{} }

func (h *maxHeap) len() int { return len(h.items) }

func (h *maxHeap) peek() (pqItem, bool) {
	if len(h.items) == 0 {
		return pqItem{}, false
	}
	return h.items[0], true
}

func (h *maxHeap) push(item pqItem) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !less(h.items[parent], h.items[i]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *maxHeap) popWorst() (pqItem, bool) {
	if len(h.items) == 0 {
		return pqItem{}, false
	}
	top := h.items[0]
	n := len(h.items) - 1
	h.items[0] = h.items[n]
	h.items = h.items[:n]
	if n > 0 {
		h.bubbleDown(0)
	}
	return top, true
}

func (h *maxHeap) bubbleDown(i int) {
	n := len(h.items)
	for {
		largest := i
		left, right := 2*i+1, 2*i+2
		if left < n && less(h.items[largest], h.items[left]) {
			largest = left
		}
		if right < n && less(h.items[largest], h.items[right]) {
			largest = right
		}
		if largest == i {
			break
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
}

// sortedAscending drains the heap into a slice ordered best-first.
func (h *maxHeap) sortedAscending() []scoredCandidate {
	n := len(h.items)
	out := make([]scoredCandidate, n)
	for i := n - 1; i >= 0; i-- {
		item, _ := h.popWorst()
		out[i] = scoredCandidate{id: item.id, score: item.score}
	}
	return out
}
