// Package queue provides a bounded top-k collector for similarity search.
package queue

// Item is a scored candidate. Value-based storage, no pointer indirection.
type Item struct {
	Position int     // insertion slot in the backing store
	Score    float32 // similarity score, higher is better
}

// worse reports whether a ranks below b: lower score, or on equal scores the
// later insertion position. This makes result ordering deterministic.
func worse(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Position > b.Position
}

// TopK keeps the k best-scored items seen so far.
// Internally a min-heap whose root is the current worst retained item.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a collector retaining at most k items. k must be positive.
func NewTopK(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Push offers an item, evicting the current worst when over capacity.
func (q *TopK) Push(it Item) {
	if len(q.items) < q.k {
		q.items = append(q.items, it)
		q.siftUp(len(q.items) - 1)
		return
	}
	if worse(it, q.items[0]) {
		return
	}
	q.items[0] = it
	q.siftDown(0)
}

// Len returns the number of retained items.
func (q *TopK) Len() int { return len(q.items) }

// Sorted drains the collector, best first.
func (q *TopK) Sorted() []Item {
	out := make([]Item, len(q.items))
	for i := len(q.items) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	last := q.items[n-1]
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !worse(q.items[i], q.items[p]) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		least := l
		if r := l + 1; r < n && worse(q.items[r], q.items[l]) {
			least = r
		}
		if !worse(q.items[least], q.items[i]) {
			return
		}
		q.items[i], q.items[least] = q.items[least], q.items[i]
		i = least
	}
}
