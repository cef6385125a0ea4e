package indexing

import (
	"errors"

	"ShardSearch/internal/segment"
)

// Buffer limits.
const (
	DefaultBufferMemoryLimit = 64 * 1024 * 1024 // 64MB
	DefaultMaxDocsPerSegment = 100_000
)

var (
	ErrBufferFull      = errors.New("indexing: write buffer limit reached")
	ErrDuplicateDoc    = errors.New("indexing: duplicate document ID in buffer")
	ErrWriterNotActive = errors.New("indexing: writer is not active")
	ErrNothingToCommit = errors.New("indexing: write buffer is empty")
)

// WriteBuffer accumulates documents until the next commit turns them into
// a segment.
type WriteBuffer struct {
	docs []segment.Document
	ids  map[string]struct{}

	memoryUsed  int64
	MemoryLimit int64
	MaxDocs     int
}

// NewWriteBuffer creates a new empty write buffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{
		ids:         make(map[string]struct{}),
		MemoryLimit: DefaultBufferMemoryLimit,
		MaxDocs:     DefaultMaxDocsPerSegment,
	}
}

// Add appends a document. Returns ErrDuplicateDoc if the ID is already
// buffered and ErrBufferFull once a limit is reached.
func (b *WriteBuffer) Add(doc segment.Document) error {
	if _, exists := b.ids[doc.ID]; exists {
		return ErrDuplicateDoc
	}
	if b.IsFull() {
		return ErrBufferFull
	}

	b.ids[doc.ID] = struct{}{}
	b.docs = append(b.docs, doc)
	b.memoryUsed += estimateSize(doc)
	return nil
}

// DocCount returns the number of buffered documents.
func (b *WriteBuffer) DocCount() int {
	return len(b.docs)
}

// MemoryUsed returns the approximate memory used by the buffer.
func (b *WriteBuffer) MemoryUsed() int64 {
	return b.memoryUsed
}

// IsFull returns true if the buffer has reached its memory or document limit.
func (b *WriteBuffer) IsFull() bool {
	return len(b.docs) >= b.MaxDocs || b.memoryUsed >= b.MemoryLimit
}

// Documents returns the buffered documents in insertion order.
func (b *WriteBuffer) Documents() []segment.Document {
	return b.docs
}

// Truncate drops every document added after the first n.
func (b *WriteBuffer) Truncate(n int) {
	if n >= len(b.docs) {
		return
	}
	for _, doc := range b.docs[n:] {
		delete(b.ids, doc.ID)
		b.memoryUsed -= estimateSize(doc)
	}
	clear(b.docs[n:])
	b.docs = b.docs[:n]
}

// Reset clears the buffer for reuse.
func (b *WriteBuffer) Reset() {
	b.docs = nil
	b.ids = make(map[string]struct{})
	b.memoryUsed = 0
}

func estimateSize(doc segment.Document) int64 {
	size := int64(len(doc.ID))
	for k, v := range doc.Fields {
		size += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			size += int64(len(s))
		}
	}
	return size
}
