// Package segment implements engine.Segment on top of in-memory bleve
// indexes. Each commit on a shard produces one immutable Segment.
package segment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"ShardSearch/internal/engine"
	"ShardSearch/internal/plan"
)

var (
	ErrEmptySegment = errors.New("segment: no documents")
	ErrMissingID    = errors.New("segment: document without id")
	ErrClosed       = errors.New("segment: closed")
)

// Document is a document ready to be written to a segment.
type Document struct {
	ID     string
	Fields map[string]any
}

// Segment is an immutable bleve index holding one commit's documents.
type Segment struct {
	id       string
	index    bleve.Index
	docCount uint64
}

// Build indexes docs into a new in-memory segment.
func Build(id string, docs []Document) (*Segment, error) {
	if len(docs) == 0 {
		return nil, ErrEmptySegment
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("segment: create index %s: %w", id, err)
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if doc.ID == "" {
			_ = idx.Close()
			return nil, ErrMissingID
		}
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("segment: index document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("segment: write batch %s: %w", id, err)
	}

	count, err := idx.DocCount()
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("segment: count documents %s: %w", id, err)
	}

	return &Segment{id: id, index: idx, docCount: count}, nil
}

// ID returns the segment's identifier.
func (s *Segment) ID() string {
	return s.id
}

// DocCount returns the number of documents in the segment.
func (s *Segment) DocCount() uint64 {
	return s.docCount
}

// Search runs query against the segment and returns every match. Rows come
// back ordered by document ID in the direction of srt when srt sorts by ID;
// callers re-order by other fields themselves.
func (s *Segment) Search(ctx context.Context, q string, srt plan.Sort) (engine.RowIterator, error) {
	if s.index == nil {
		return nil, ErrClosed
	}

	req := bleve.NewSearchRequestOptions(parseQuery(q), int(s.docCount), 0, false)
	req.Fields = []string{"*"}
	if srt.Field == plan.IDField && srt.Desc {
		req.SortBy([]string{"-_id"})
	} else {
		req.SortBy([]string{"_id"})
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("segment: search %s: %w", s.id, err)
	}

	rows := make([]plan.Row, 0, len(res.Hits))
	for _, hit := range res.Hits {
		rows = append(rows, plan.Row{ID: hit.ID, Fields: hit.Fields})
	}
	return engine.NewSliceRowIterator(rows, nil), nil
}

// Close releases the underlying index.
func (s *Segment) Close() error {
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

// parseQuery maps the match-all forms to a MatchAllQuery and everything
// else to a bleve query string.
func parseQuery(q string) query.Query {
	switch strings.TrimSpace(q) {
	case "", "*", "*:*":
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewQueryStringQuery(q)
}
