package responder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
	"github.com/MikeSquared-Agency/mnemo/internal/llm"
	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
)

// pushTimeout bounds delivery of the enrichment result. Delivery runs on its
// own context so an expired task deadline still lets the notice through.
const pushTimeout = 10 * time.Second

// enrich computes the deep answer and pushes it to target. Any failure,
// including a panic, is turned into a polite notice; the user was promised a
// follow-up.
func (p *Pipeline) enrich(ctx context.Context, interactionID, target, question string) {
	start := time.Now()
	logger := p.logger.With("interaction_id", interactionID, "origin", target)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("enrichment panicked, sending notice", "panic", r)
			p.push(ctx, logger, target, failureNotice)
		}
	}()

	text, docs, err := p.answerDeep(ctx, question)

	var msg string
	switch {
	case err != nil:
		logger.Warn("enrichment failed, sending notice", "error", err)
		msg = failureNotice
	case len(docs) > 0:
		msg = historyPrefix + "\n" + text
	default:
		msg = generalPrefix + "\n" + text
	}

	if p.push(ctx, logger, target, msg) {
		logger.Info("enrichment delivered", "snippets", len(docs), "failed", err != nil, "duration", time.Since(start))
	}

	if p.publisher != nil {
		ev := hermes.ResponseEnriched{
			InteractionID: interactionID,
			Origin:        target,
			ContextFound:  len(docs) > 0,
			Snippets:      len(docs),
			Failed:        err != nil,
			LatencyMS:     time.Since(start).Milliseconds(),
		}
		if perr := p.publisher.Publish(hermes.SubjectResponseEnriched, ev); perr != nil {
			logger.Warn("failed to publish enrichment event", "error", perr)
		}
	}
}

// push delivers msg on a context detached from ctx's cancellation.
func (p *Pipeline) push(ctx context.Context, logger *slog.Logger, target, msg string) bool {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := p.messenger.Push(pctx, target, msg); err != nil {
		logger.Error("enrichment push failed", "error", err)
		return false
	}
	return true
}

func (p *Pipeline) answerDeep(ctx context.Context, question string) (string, []retrieval.Document, error) {
	prof := p.cfg.Deep

	var docs []retrieval.Document
	if p.retriever != nil {
		var err error
		docs, err = p.retriever.SimilaritySearch(ctx, question, prof.K)
		if err != nil {
			return "", nil, fmt.Errorf("retrieve: %w", err)
		}
	}

	resp, err := p.gen.Generate(ctx, llm.Request{
		Model:       prof.Model,
		System:      deepSystemPrompt,
		Prompt:      deepPrompt(question, docs, prof.SnippetRunes),
		MaxTokens:   prof.MaxTokens,
		Temperature: prof.Temperature,
	})
	if err != nil {
		return "", docs, fmt.Errorf("generate: %w", err)
	}

	text, err := llm.ExtractText(resp)
	if err != nil {
		return "", docs, err
	}
	return text, docs, nil
}
