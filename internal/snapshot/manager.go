package snapshot

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ShardSearch/internal/engine"
)

// Manager owns the current generation of one replica. Commits publish new
// generations; queries take snapshots of whichever generation is current.
// A segment that leaves the generation is retired and handed back by
// Reclaim once no snapshot reads it.
type Manager struct {
	mu      sync.RWMutex
	gen     uint64
	live    []*pin // commit order
	retired []*pin

	open   atomic.Int64
	nextID atomic.Uint64

	logger *slog.Logger
}

// NewManager creates a Manager at generation 0 with no segments.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Acquire pins the current generation. Callers must Release the snapshot.
func (m *Manager) Acquire() *Snapshot {
	m.mu.RLock()
	snap := &Snapshot{
		ID:         m.nextID.Add(1),
		Generation: m.gen,
		Segments:   make([]engine.Segment, len(m.live)),
		pins:       make([]*pin, len(m.live)),
		manager:    m,
	}
	for i, p := range m.live {
		p.readers.Add(1)
		snap.pins[i] = p
		snap.Segments[i] = p.seg
	}
	m.mu.RUnlock()

	m.open.Add(1)
	return snap
}

// Publish appends seg to the live segments as the next generation and
// returns that generation.
func (m *Manager) Publish(seg engine.Segment) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs := make([]engine.Segment, 0, len(m.live)+1)
	for _, p := range m.live {
		segs = append(segs, p.seg)
	}
	m.replaceLocked(m.gen+1, append(segs, seg))
	return m.gen
}

// UpdateGeneration replaces the live segment set. Segments present in both
// sets keep their readers. It returns the dropped segments nobody reads any
// more; the caller closes them. Generations must increase.
func (m *Manager) UpdateGeneration(gen uint64, segments []engine.Segment) []engine.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(gen, segments)
}

func (m *Manager) replaceLocked(gen uint64, segments []engine.Segment) []engine.Segment {
	if gen <= m.gen {
		panic(fmt.Sprintf("snapshot: generation %d does not follow %d", gen, m.gen))
	}

	byID := make(map[string]*pin, len(m.live))
	for _, p := range m.live {
		byID[p.seg.ID()] = p
		p.live = false
	}

	next := make([]*pin, len(segments))
	for i, seg := range segments {
		p, ok := byID[seg.ID()]
		if !ok {
			p = &pin{seg: seg}
		}
		p.live = true
		next[i] = p
	}
	for _, p := range m.live {
		if !p.live {
			m.retired = append(m.retired, p)
		}
	}

	m.gen = gen
	m.live = next
	freed := m.sweepLocked()

	m.logger.Debug("generation published",
		"generation", gen,
		"segments", len(next),
		"retired", len(m.retired),
		"freed", len(freed),
	)
	return freed
}

// Reclaim returns retired segments that no snapshot reads any more. The
// caller closes them.
func (m *Manager) Reclaim() []engine.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) sweepLocked() []engine.Segment {
	var freed []engine.Segment
	kept := m.retired[:0]
	for _, p := range m.retired {
		if p.readers.Load() == 0 {
			freed = append(freed, p.seg)
		} else {
			kept = append(kept, p)
		}
	}
	clear(m.retired[len(kept):])
	m.retired = kept
	return freed
}

func (m *Manager) CurrentGeneration() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// SegmentCount returns the number of live segments.
func (m *Manager) SegmentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// RetiredCount returns the number of dropped segments still being read.
func (m *Manager) RetiredCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.retired)
}

// Readers returns how many snapshots pin the segment, or -1 if the
// segment is neither live nor retired.
func (m *Manager) Readers(segmentID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range [][]*pin{m.live, m.retired} {
		for _, p := range list {
			if p.seg.ID() == segmentID {
				return p.readers.Load()
			}
		}
	}
	return -1
}

// ActiveSnapshotCount returns the number of unreleased snapshots.
func (m *Manager) ActiveSnapshotCount() int {
	return int(m.open.Load())
}
