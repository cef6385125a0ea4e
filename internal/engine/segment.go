package engine

import (
	"context"

	"ShardSearch/internal/plan"
)

// Segment is a bounded, immutable unit of index data. Implementations may
// block on I/O while searching.
type Segment interface {
	// ID returns the segment's identifier.
	ID() string

	// DocCount returns the number of documents in the segment.
	DocCount() uint64

	// Search returns the segment's matches for query, in s order.
	Search(ctx context.Context, query string, s plan.Sort) (RowIterator, error)
}

// RowIterator iterates over a segment's matches.
type RowIterator interface {
	// Next advances to the next row. Returns false when exhausted or failed.
	Next() bool

	// Row returns the current row. Valid only after Next returns true.
	Row() plan.Row

	// Err returns the error that stopped iteration, if any.
	Err() error
}

// SliceRowIterator is a RowIterator backed by a slice.
type SliceRowIterator struct {
	rows []plan.Row
	pos  int
	err  error
}

// NewSliceRowIterator iterates rows, then reports err (which may be nil).
func NewSliceRowIterator(rows []plan.Row, err error) *SliceRowIterator {
	return &SliceRowIterator{rows: rows, pos: -1, err: err}
}

func (it *SliceRowIterator) Next() bool {
	it.pos++
	return it.pos < len(it.rows)
}

func (it *SliceRowIterator) Row() plan.Row {
	return it.rows[it.pos]
}

func (it *SliceRowIterator) Err() error {
	if it.pos >= len(it.rows) {
		return it.err
	}
	return nil
}

// SliceSegments groups segments into consecutive slices of at most perTask
// segments. Each slice becomes one task.
func SliceSegments(segments []Segment, perTask int) [][]Segment {
	if perTask <= 0 {
		perTask = DefaultSegmentsPerTask
	}
	var slices [][]Segment
	for start := 0; start < len(segments); start += perTask {
		end := min(start+perTask, len(segments))
		slices = append(slices, segments[start:end])
	}
	return slices
}
