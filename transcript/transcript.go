// Package transcript archives completed chat exchanges in a full-text
// index so earlier conversations can be searched.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/vinayprograms/ollamakit/chat"
)

// DefaultLimit is the number of hits Search returns when none is given.
const DefaultLimit = 10

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("transcript: store closed")

// Document is an exchange as indexed.
type Document struct {
	Address    string    `json:"address"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

// Hit is one search result.
type Hit struct {
	ID        string
	Model     string
	Prompt    string
	Response  string
	StartedAt time.Time
	Duration  time.Duration
	Score     float64
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Limit caps the number of hits. Zero means DefaultLimit.
	Limit int
	// Model restricts hits to one model.
	Model string
}

// Store is a searchable archive of exchanges. It implements chat.Archive.
type Store struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ chat.Archive = (*Store)(nil)

// Open opens the index at path, creating it if needed. An empty path keeps
// the index in memory.
func Open(path string) (*Store, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &Store{index: index}, nil
	}

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", path, err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open index %s: %w", path, err)
		}
	}
	return &Store{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	doc.AddFieldMappingsAt("prompt", text)
	doc.AddFieldMappingsAt("response", text)
	doc.AddFieldMappingsAt("model", kw)
	doc.AddFieldMappingsAt("address", kw)
	doc.AddFieldMappingsAt("started_at", bleve.NewDateTimeFieldMapping())
	doc.AddFieldMappingsAt("duration_ms", bleve.NewNumericFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Record implements chat.Archive.
func (s *Store) Record(ctx context.Context, ex chat.Exchange) error {
	_, err := s.Add(ctx, ex)
	return err
}

// Add indexes ex and returns its ID.
func (s *Store) Add(ctx context.Context, ex chat.Exchange) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	id := uuid.New().String()
	doc := Document{
		Address:    ex.Address,
		Model:      ex.Model,
		Prompt:     ex.Prompt,
		Response:   ex.Response,
		StartedAt:  ex.StartedAt,
		DurationMS: float64(ex.Duration) / float64(time.Millisecond),
	}
	if err := s.index.Index(id, doc); err != nil {
		return "", fmt.Errorf("failed to index exchange: %w", err)
	}
	return id, nil
}

// Search returns the exchanges whose prompt or response best match text,
// highest score first.
func (s *Store) Search(ctx context.Context, text string, opts SearchOptions) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	prompt := bleve.NewMatchQuery(text)
	prompt.SetField("prompt")
	response := bleve.NewMatchQuery(text)
	response.SetField("response")
	var q query.Query = bleve.NewDisjunctionQuery(prompt, response)

	if opts.Model != "" {
		model := bleve.NewTermQuery(opts.Model)
		model.SetField("model")
		q = bleve.NewConjunctionQuery(q, model)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}

	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		hit.Model, _ = h.Fields["model"].(string)
		hit.Prompt, _ = h.Fields["prompt"].(string)
		hit.Response, _ = h.Fields["response"].(string)
		if v, ok := h.Fields["started_at"].(string); ok {
			hit.StartedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
		if v, ok := h.Fields["duration_ms"].(float64); ok {
			hit.Duration = time.Duration(v * float64(time.Millisecond))
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of archived exchanges.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.index.DocCount()
}

// Close closes the index. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}
