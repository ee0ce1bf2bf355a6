// Package searcher provides the candidate ranking used by index search:
// a bounded top-k selector over (id, distance) pairs with deterministic
// tie handling.
package searcher

import "container/heap"

// Compile time check to ensure candidateHeap satisfies the heap interface.
var _ heap.Interface = (*candidateHeap)(nil)

// Candidate pairs a source id with its computed distance.
type Candidate struct {
	ID       int64
	Distance float32
}

// worse reports whether a ranks strictly after b: larger distance, or equal
// distance with the larger id. This makes equal-distance results resolve to
// the lower id regardless of scan order.
func worse(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// candidateHeap is a max-heap on the worse ordering, so the root is the
// current eviction candidate.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK keeps the k best candidates seen so far.
type TopK struct {
	k     int
	items candidateHeap
}

// NewTopK returns a selector holding at most k candidates. k must be
// positive.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make(candidateHeap, 0, k)}
}

// Push offers a candidate. Once full, it displaces the current worst only if
// the new candidate ranks strictly better.
func (t *TopK) Push(id int64, dist float32) {
	c := Candidate{ID: id, Distance: dist}
	if len(t.items) < t.k {
		heap.Push(&t.items, c)
		return
	}
	if worse(t.items[0], c) {
		t.items[0] = c
		heap.Fix(&t.items, 0)
	}
}

// Len returns the number of candidates held.
func (t *TopK) Len() int { return len(t.items) }

// WorstDistance returns the distance of the current eviction candidate, or
// +Inf semantics via ok=false while the selector is not yet full.
func (t *TopK) WorstDistance() (float32, bool) {
	if len(t.items) < t.k {
		return 0, false
	}
	return t.items[0].Distance, true
}

// Drain empties the selector and returns candidates ordered best first.
func (t *TopK) Drain() []Candidate {
	out := make([]Candidate, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.items).(Candidate)
	}
	return out
}
