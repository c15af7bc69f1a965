// Package ingest turns a LINE talk-history export into indexed conversation
// pieces: parse, chunk, render, split, then hand the pieces to the index.
package ingest

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/mnemo/internal/chatlog"
	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
	"github.com/MikeSquared-Agency/mnemo/internal/segment"
	"github.com/MikeSquared-Agency/mnemo/internal/splitter"
)

// Index status values reported in ProcessingInfo.
const (
	StatusSuccess       = "success"
	StatusUnavailable   = "unavailable"
	StatusNotConfigured = "not_configured"
)

// Indexer stores split pieces for later retrieval.
type Indexer interface {
	AddDocuments(ctx context.Context, docs []retrieval.Document) error
}

// Notifier receives a human-readable summary after each ingest.
type Notifier interface {
	PostMessage(ctx context.Context, text string) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Publisher emits the ingest-completed event.
type Publisher interface {
	Publish(subject string, data any) error
}

// Options are the per-request splitter settings. Zero values select defaults.
type Options struct {
	ChunkSize    int `json:"chunkSize"`
	ChunkOverlap int `json:"chunkOverlap"`
}

// Summary describes what was parsed and produced.
type Summary struct {
	OriginalMessages    int                  `json:"originalMessages"`
	ConversationChunks  int                  `json:"conversationChunks"`
	FinalDocumentChunks int                  `json:"finalDocumentChunks"`
	Participants        []string             `json:"participants"`
	DateRange           chatlog.DateRange    `json:"dateRange"`
	MessageTypes        map[chatlog.Kind]int `json:"messageTypes"`
	NothingParsed       bool                 `json:"-"`
}

// ProcessingInfo records the settings used and the outcome of indexing.
type ProcessingInfo struct {
	ChunkSize      int    `json:"chunkSize"`
	ChunkOverlap   int    `json:"chunkOverlap"`
	EmbeddingModel string `json:"embeddingModel"`
	IndexStatus    string `json:"indexStatus"`
	Timestamp      string `json:"timestamp"`
}

// Result is returned by Ingest.
type Result struct {
	Summary    Summary              `json:"summary"`
	Processing ProcessingInfo       `json:"processingInfo"`
	Documents  []retrieval.Document `json:"-"`
}

// Config holds the service settings that do not vary per request.
type Config struct {
	Chunking       segment.Options
	EmbeddingModel string
	Source         string              // metadata provenance tag; defaults to segment.SourceLineExport
	Length         splitter.LengthFunc // nil counts runes
	DateMarkers    bool                // keep date headers as system messages
}

// Service runs the ingest pipeline. The indexer, notifier and publisher are optional.
type Service struct {
	cfg       Config
	index     Indexer
	notifier  Notifier
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier posts a summary after every ingest.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher emits hermes.SubjectIngestCompleted after every ingest.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates an ingest service. index may be nil when no vector store is configured.
func NewService(cfg Config, index Indexer, logger *slog.Logger, opts ...Option) *Service {
	if cfg.Source == "" {
		cfg.Source = segment.SourceLineExport
	}
	s := &Service{
		cfg:    cfg,
		index:  index,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest parses raw export text and indexes the resulting pieces. Indexing
// failures are reported in the result's IndexStatus, never as an error; the
// only error returned is a cancelled context.
func (s *Service) Ingest(ctx context.Context, raw string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var parseOpts []chatlog.Option
	if s.cfg.DateMarkers {
		parseOpts = append(parseOpts, chatlog.WithDateMarkers())
	}
	msgs, meta := chatlog.Parse(raw, parseOpts...)
	now := s.now()

	size, overlap := opts.ChunkSize, opts.ChunkOverlap
	if size <= 0 {
		size = splitter.DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = splitter.DefaultChunkOverlap
	}
	var splitOpts []splitter.Option
	if s.cfg.Length != nil {
		splitOpts = append(splitOpts, splitter.WithLength(s.cfg.Length))
	}
	sp := splitter.New(size, overlap, splitOpts...)
	if sp.ChunkOverlap() != overlap {
		s.logger.Warn("chunk overlap not smaller than chunk size, reduced",
			"chunk_size", size, "requested_overlap", overlap, "overlap", sp.ChunkOverlap())
	}

	res := &Result{
		Summary: Summary{
			OriginalMessages: len(msgs),
			Participants:     meta.Participants,
			DateRange:        meta.DateRange,
			MessageTypes:     meta.MessageTypes,
			NothingParsed:    len(msgs) == 0,
		},
		Processing: ProcessingInfo{
			ChunkSize:      sp.ChunkSize(),
			ChunkOverlap:   sp.ChunkOverlap(),
			EmbeddingModel: s.cfg.EmbeddingModel,
			Timestamp:      now.UTC().Format(time.RFC3339),
		},
	}

	if res.Summary.NothingParsed {
		s.logger.Warn("no messages parsed from export", "bytes", len(raw))
		return res, nil
	}

	s.logger.Info("parsed export",
		"messages", len(msgs),
		"participants", len(meta.Participants),
	)

	chunks := segment.ChunkMessages(msgs, s.cfg.Chunking)
	for _, doc := range segment.Documents(chunks, s.cfg.Source, now) {
		pieces := sp.Split(doc.Text)
		original := utf8.RuneCountInString(doc.Text)
		for j, p := range pieces {
			res.Documents = append(res.Documents, retrieval.Document{
				Content:  p,
				Metadata: doc.Metadata.WithSubChunk(j, len(pieces), original),
			})
		}
	}
	res.Summary.ConversationChunks = len(chunks)
	res.Summary.FinalDocumentChunks = len(res.Documents)
	res.Processing.IndexStatus = s.indexDocuments(ctx, res.Documents)

	s.logger.Info("ingest complete",
		"conversation_chunks", res.Summary.ConversationChunks,
		"documents", res.Summary.FinalDocumentChunks,
		"index_status", res.Processing.IndexStatus,
	)

	s.publish(res)
	s.notify(ctx, res)

	return res, nil
}

func (s *Service) indexDocuments(ctx context.Context, docs []retrieval.Document) string {
	if s.index == nil {
		return StatusNotConfigured
	}
	if err := s.index.AddDocuments(ctx, docs); err != nil {
		s.logger.Warn("index unavailable, continuing without it", "error", err)
		return StatusUnavailable
	}
	return StatusSuccess
}

func (s *Service) publish(res *Result) {
	if s.publisher == nil {
		return
	}
	ev := hermes.IngestCompleted{
		Messages:     res.Summary.OriginalMessages,
		Chunks:       res.Summary.ConversationChunks,
		Documents:    res.Summary.FinalDocumentChunks,
		Participants: res.Summary.Participants,
		IndexStatus:  res.Processing.IndexStatus,
	}
	if err := s.publisher.Publish(hermes.SubjectIngestCompleted, ev); err != nil {
		s.logger.Warn("failed to publish ingest event", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, res *Result) {
	if s.notifier == nil {
		return
	}
	ts, err := s.notifier.PostMessage(ctx, FormatSummary(res))
	if err != nil {
		s.logger.Warn("failed to post ingest summary", "error", err)
		return
	}
	if detail := formatMessageTypes(res.Summary.MessageTypes); detail != "" {
		if err := s.notifier.PostThread(ctx, ts, detail); err != nil {
			s.logger.Warn("failed to post ingest detail", "error", err)
		}
	}
}
