// Package snapshot pins a shard replica's committed segments for the
// duration of a query.
package snapshot

import (
	"sync/atomic"

	"ShardSearch/internal/engine"
)

// Snapshot is the set of segments one query reads. The segments stay open
// until Release, even if a later commit drops them from the generation.
type Snapshot struct {
	ID         uint64
	Generation uint64

	// Segments in commit order.
	Segments []engine.Segment

	pins     []*pin
	manager  *Manager
	released atomic.Bool
}

// Readers returns the pinned segments in commit order.
func (s *Snapshot) Readers() []engine.Segment {
	return s.Segments
}

// DocCount sums the document counts of the pinned segments.
func (s *Snapshot) DocCount() uint64 {
	var n uint64
	for _, seg := range s.Segments {
		n += seg.DocCount()
	}
	return n
}

// Release unpins the segments. Calls after the first are no-ops.
func (s *Snapshot) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	for _, p := range s.pins {
		p.unpin()
	}
	s.manager.open.Add(-1)
	return nil
}

// Released reports whether Release has been called.
func (s *Snapshot) Released() bool {
	return s.released.Load()
}

// pin counts the open snapshots reading one segment.
type pin struct {
	seg     engine.Segment
	readers atomic.Int64
	live    bool // part of the current generation, guarded by Manager.mu
}

func (p *pin) unpin() {
	if p.readers.Add(-1) < 0 {
		panic("snapshot: negative reader count for segment " + p.seg.ID())
	}
}
