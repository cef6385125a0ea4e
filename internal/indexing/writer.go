package indexing

import (
	"errors"
	"fmt"
	"sync"

	"ShardSearch/internal/segment"
)

var ErrMissingID = errors.New("indexing: document needs a non-empty string \"id\" field")

// DocumentError reports which document of a batch was rejected.
type DocumentError struct {
	Index int
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %d: %v", e.Index, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Document is a client document. Fields must carry a string "id".
type Document struct {
	Fields map[string]any
}

// ID returns the document's id field, or "" if it is absent or not a string.
func (d Document) ID() string {
	id, _ := d.Fields["id"].(string)
	return id
}

// Writer buffers documents for one shard replica until Commit cuts them
// into a segment. Safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	buffer   *WriteBuffer
	released bool
}

// NewWriter creates a Writer with an empty buffer.
func NewWriter() *Writer {
	return &Writer{buffer: NewWriteBuffer()}
}

// AddDocument buffers a single document.
func (w *Writer) AddDocument(doc Document) error {
	return w.AddDocuments([]Document{doc})
}

// AddDocuments buffers docs as one batch: if any document is rejected none
// of them is buffered. Errors are *DocumentError naming the offending
// document's position in docs.
func (w *Writer) AddDocuments(docs []Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return ErrWriterNotActive
	}

	mark := w.buffer.DocCount()
	for i, doc := range docs {
		err := ErrMissingID
		if id := doc.ID(); id != "" {
			err = w.buffer.Add(segment.Document{ID: id, Fields: doc.Fields})
		}
		if err != nil {
			w.buffer.Truncate(mark)
			return &DocumentError{Index: i, Err: err}
		}
	}
	return nil
}

// Commit builds a segment named segmentID from the buffered documents and
// empties the buffer. On failure the buffer is left as it was.
func (w *Writer) Commit(segmentID string) (*segment.Segment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.released:
		return nil, ErrWriterNotActive
	case w.buffer.DocCount() == 0:
		return nil, ErrNothingToCommit
	}

	seg, err := segment.Build(segmentID, w.buffer.Documents())
	if err != nil {
		return nil, fmt.Errorf("indexing: commit %s: %w", segmentID, err)
	}
	w.buffer.Reset()
	return seg, nil
}

// DocCount returns the number of buffered documents.
func (w *Writer) DocCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffer.DocCount()
}

// Mark returns a position that Rollback can return the buffer to.
func (w *Writer) Mark() int {
	return w.DocCount()
}

// Rollback drops every document buffered after mark.
func (w *Writer) Rollback(mark int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer.Truncate(mark)
}

// Abort drops everything buffered since the last commit.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer.Reset()
}

// Release rejects all further writes and drops the buffer.
func (w *Writer) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released = true
	w.buffer.Reset()
}
