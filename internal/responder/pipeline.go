// Package responder answers inbound LINE events: an access check, a
// deadline-bound fast answer with a canned fallback, then a deeper
// history-informed answer pushed in the background.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
	"github.com/MikeSquared-Agency/mnemo/internal/line"
	"github.com/MikeSquared-Agency/mnemo/internal/llm"
	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
)

// Retriever finds stored conversation pieces similar to a query.
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]retrieval.Document, error)
}

// Messenger delivers text to LINE. Reply works once per reply token; Push
// can be called any number of times.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
	Push(ctx context.Context, to string, texts ...string) error
}

// Scheduler runs a task after the current request has returned.
type Scheduler interface {
	Go(ctx context.Context, name string, task func(context.Context)) bool
}

// Publisher emits pipeline events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Outcome is how an event was answered.
type Outcome string

const (
	OutcomeDenied   Outcome = "denied"
	OutcomeFast     Outcome = "fast"
	OutcomeFallback Outcome = "fallback"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeWelcome  Outcome = "welcome"
	OutcomeFailed   Outcome = "failed"
)

// Attempt records the handling of one event.
type Attempt struct {
	InteractionID       string
	EventType           string
	Origin              access.Origin
	UserMessage         string
	Snippets            []string
	ReplyText           string
	Outcome             Outcome
	ContextUsed         bool
	EnrichmentScheduled bool
	Err                 error
}

// Profile is a retrieval depth plus generation settings.
type Profile struct {
	Model        string
	K            int
	SnippetRunes int
	MaxTokens    int
	Temperature  float64
}

// Config tunes the two answer tiers.
type Config struct {
	FastTimeout time.Duration
	Fast        Profile
	Deep        Profile
}

// DefaultConfig returns a 4s fast path (k=2, 300-rune snippets, 160 tokens
// at 0.1) and a deep path (k=5, 1200-rune snippets, 600 tokens at 0.3).
func DefaultConfig() Config {
	return Config{
		FastTimeout: 4 * time.Second,
		Fast:        Profile{K: 2, SnippetRunes: 300, MaxTokens: 160, Temperature: 0.1},
		Deep:        Profile{K: 5, SnippetRunes: 1200, MaxTokens: 600, Temperature: 0.3},
	}
}

// Pipeline handles webhook events.
type Pipeline struct {
	cfg       Config
	gen       llm.Generator
	retriever Retriever
	messenger Messenger
	scheduler Scheduler
	publisher Publisher
	pick      func(n int) int
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetriever enables history retrieval. Without it both tiers answer
// from general knowledge.
func WithRetriever(r Retriever) Option {
	return func(p *Pipeline) { p.retriever = r }
}

// WithPublisher emits hermes events for every handled event.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithPicker replaces the random choice of fallback message.
func WithPicker(pick func(n int) int) Option {
	return func(p *Pipeline) { p.pick = pick }
}

func New(cfg Config, gen llm.Generator, messenger Messenger, scheduler Scheduler, logger *slog.Logger, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = def.FastTimeout
	}
	if cfg.Fast.K <= 0 {
		cfg.Fast.K = def.Fast.K
	}
	if cfg.Deep.K <= 0 {
		cfg.Deep.K = def.Deep.K
	}

	p := &Pipeline{
		cfg:       cfg,
		gen:       gen,
		messenger: messenger,
		scheduler: scheduler,
		pick:      rand.IntN,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleBatch handles events in order. A failure or panic in one event does
// not affect the others.
func (p *Pipeline) HandleBatch(ctx context.Context, events []line.Event, allow access.AllowList) []Attempt {
	attempts := make([]Attempt, 0, len(events))
	for _, ev := range events {
		attempts = append(attempts, p.handleSafely(ctx, ev, allow))
	}
	return attempts
}

func (p *Pipeline) handleSafely(ctx context.Context, ev line.Event, allow access.AllowList) (a Attempt) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked", "event_type", ev.Type, "panic", r)
			a.EventType = ev.Type
			a.Outcome = OutcomeFailed
			a.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.HandleEvent(ctx, ev, allow)
}

// HandleEvent runs one event through the pipeline.
func (p *Pipeline) HandleEvent(ctx context.Context, ev line.Event, allow access.AllowList) Attempt {
	start := time.Now()
	a := Attempt{
		InteractionID: uuid.NewString(),
		EventType:     ev.Type,
		Origin:        ev.Source.Origin(),
	}
	logger := p.logger.With("interaction_id", a.InteractionID, "origin", a.Origin.ID, "origin_kind", a.Origin.Kind)

	if ev.Type == line.EventTypeFollow {
		a.Outcome = OutcomeWelcome
		a.ReplyText = welcomeNotice
		if allow.Configured() {
			a.ReplyText = refusalNotice
		}
		if err := p.messenger.Reply(ctx, ev.ReplyToken, a.ReplyText); err != nil {
			logger.Warn("failed to send welcome", "error", err)
			a.Err = err
		}
		p.publishHandled(a, start)
		return a
	}

	text, ok := ev.Text()
	if !ok {
		a.Outcome = OutcomeSkipped
		return a
	}
	a.UserMessage = text

	if d := access.Check(a.Origin, access.ClassMessage, allow); !d.Allowed {
		logger.Info("access denied")
		a.Outcome = OutcomeDenied
		a.ReplyText = refusalNotice
		if err := p.messenger.Reply(ctx, ev.ReplyToken, refusalNotice); err != nil {
			logger.Warn("failed to send refusal", "error", err)
			a.Err = err
		}
		p.publishHandled(a, start)
		return a
	}

	res, err := p.fastPath(ctx, text)
	if err == nil {
		reply := res.text
		if res.contextUsed {
			reply = contextMarker + reply
		}
		if err = p.messenger.Reply(ctx, ev.ReplyToken, reply); err == nil {
			a.Outcome = OutcomeFast
			a.ReplyText = reply
			a.Snippets = res.snippets
			a.ContextUsed = res.contextUsed
		} else {
			logger.Warn("fast reply not delivered, falling back", "error", err)
		}
	} else {
		logger.Info("fast path failed, falling back", "error", err)
	}

	if a.Outcome != OutcomeFast {
		fallback := fallbackPool[p.pick(len(fallbackPool))]
		if rerr := p.messenger.Reply(ctx, ev.ReplyToken, fallback); rerr != nil {
			logger.Error("fallback reply failed", "error", rerr)
			a.Outcome = OutcomeFailed
			a.Err = rerr
			p.publishHandled(a, start)
			return a
		}
		a.Outcome = OutcomeFallback
		a.ReplyText = fallback
		a.Err = err
	}

	a.EnrichmentScheduled = p.scheduleEnrichment(ctx, a)
	p.publishHandled(a, start)
	return a
}

func (p *Pipeline) scheduleEnrichment(ctx context.Context, a Attempt) bool {
	target := a.Origin.ID
	if target == "" {
		p.logger.Warn("no push target for event, skipping enrichment", "interaction_id", a.InteractionID)
		return false
	}
	question := a.UserMessage
	id := a.InteractionID
	return p.scheduler.Go(ctx, "enrich:"+id, func(ctx context.Context) {
		p.enrich(ctx, id, target, question)
	})
}

func (p *Pipeline) publishHandled(a Attempt, start time.Time) {
	if p.publisher == nil {
		return
	}
	ev := hermes.ResponseHandled{
		InteractionID:       a.InteractionID,
		Origin:              a.Origin.ID,
		OriginKind:          string(a.Origin.Kind),
		Outcome:             string(a.Outcome),
		ContextUsed:         a.ContextUsed,
		EnrichmentScheduled: a.EnrichmentScheduled,
		LatencyMS:           time.Since(start).Milliseconds(),
	}
	if err := p.publisher.Publish(hermes.SubjectResponseHandled, ev); err != nil {
		p.logger.Warn("failed to publish response event", "error", err)
	}
}
