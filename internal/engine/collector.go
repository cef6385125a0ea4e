package engine

import (
	"container/heap"
	"sort"

	"ShardSearch/internal/plan"
)

// RowCollector keeps the first limit rows in sort order. plan.NoLimit (any
// negative limit) keeps every row; a zero limit only counts them.
type RowCollector struct {
	limit int
	h     rowHeap
	seen  uint64
}

// NewRowCollector creates a collector ordering rows by s.
func NewRowCollector(s plan.Sort, limit int) *RowCollector {
	c := &RowCollector{
		limit: limit,
		h:     rowHeap{sort: s},
	}
	if limit > 0 {
		c.h.rows = make([]plan.Row, 0, limit)
	}
	return c
}

// Collect offers a row to the collector.
func (c *RowCollector) Collect(r plan.Row) {
	c.seen++
	switch {
	case c.limit < 0:
		c.h.rows = append(c.h.rows, r)
		return
	case c.limit == 0:
		return
	case c.h.Len() < c.limit:
		heap.Push(&c.h, r)
		return
	}
	// The heap top is the row that sorts last among those kept.
	if c.h.sort.Less(r, c.h.rows[0]) {
		c.h.rows[0] = r
		heap.Fix(&c.h, 0)
	}
}

// Seen returns how many rows were offered, kept or not.
func (c *RowCollector) Seen() uint64 {
	return c.seen
}

// Len returns the number of rows currently kept.
func (c *RowCollector) Len() int {
	return c.h.Len()
}

// Results returns the kept rows in sort order and empties the collector.
func (c *RowCollector) Results() []plan.Row {
	if c.limit < 0 {
		rows := c.h.rows
		s := c.h.sort
		sort.SliceStable(rows, func(i, j int) bool { return s.Less(rows[i], rows[j]) })
		c.h.rows = nil
		return rows
	}
	result := make([]plan.Row, c.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&c.h).(plan.Row)
	}
	return result
}

// rowHeap is a max-heap in sort order: the row that sorts last is on top.
type rowHeap struct {
	rows []plan.Row
	sort plan.Sort
}

func (h rowHeap) Len() int           { return len(h.rows) }
func (h rowHeap) Less(i, j int) bool { return h.sort.Less(h.rows[j], h.rows[i]) }
func (h rowHeap) Swap(i, j int)      { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *rowHeap) Push(x any)        { h.rows = append(h.rows, x.(plan.Row)) }
func (h *rowHeap) Pop() any {
	old := h.rows
	n := len(old)
	x := old[n-1]
	h.rows = old[:n-1]
	return x
}
