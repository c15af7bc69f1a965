// Package retrieval embeds conversation pieces and serves nearest-neighbour
// lookups over them.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/mnemo/internal/segment"
	"github.com/MikeSquared-Agency/mnemo/internal/store"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Document is an indexed piece of a rendered conversation segment.
type Document struct {
	ID       string           `json:"id,omitempty"`
	Content  string           `json:"content"`
	Metadata segment.Metadata `json:"metadata"`
	Score    float64          `json:"score,omitempty"`
}

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Backend persists vectors and answers similarity queries.
type Backend interface {
	InsertDocuments(ctx context.Context, rows []store.DocumentRow) error
	Search(ctx context.Context, embedding []float32, k int) ([]store.DocumentRow, error)
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Index couples an embedder with a vector backend.
type Index struct {
	embedder    Embedder
	backend     Backend
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithBatchSize sets how many texts go into one embedding request.
func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithConcurrency caps concurrent embedding requests.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

func New(embedder Embedder, backend Backend, logger *slog.Logger, opts ...Option) *Index {
	ix := &Index{
		embedder:    embedder,
		backend:     backend,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// AddDocuments embeds docs in batches and stores them. Either every document
// is stored or none is.
func (ix *Index) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	vectors := make([][]float32, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for start := 0; start < len(docs); start += ix.batchSize {
		end := min(start+ix.batchSize, len(docs))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, d := range docs[start:end] {
				texts = append(texts, d.Content)
			}
			embs, err := ix.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(embs) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(embs), len(texts))
			}
			copy(vectors[start:end], embs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rows := make([]store.DocumentRow, len(docs))
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		rows[i] = store.DocumentRow{Content: d.Content, Metadata: meta, Embedding: vectors[i]}
	}

	if err := ix.backend.InsertDocuments(ctx, rows); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}

	ix.logger.Info("documents indexed", "count", len(docs))
	return nil
}

// SimilaritySearch returns the k documents nearest to query, best first.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	vec, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := ix.backend.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		d := Document{ID: r.ID.String(), Content: r.Content, Score: r.Score}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &d.Metadata); err != nil {
				ix.logger.Warn("unreadable document metadata", "id", r.ID, "error", err)
			}
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Clear removes every indexed document and returns how many were removed.
func (ix *Index) Clear(ctx context.Context) (int64, error) {
	return ix.backend.Clear(ctx)
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	return ix.backend.Count(ctx)
}
