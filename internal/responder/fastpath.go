package responder

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/mnemo/internal/llm"
)

// ErrFastPathTimeout is returned when retrieval plus generation overran the fast deadline.
var ErrFastPathTimeout = errors.New("fast path deadline exceeded")

type fastResult struct {
	text        string
	snippets    []string
	contextUsed bool
}

type fastOutcome struct {
	res fastResult
	err error
}

// fastPath races a short retrieval and generation against the deadline. The
// losing goroutine is not awaited: its context is cancelled and its result
// lands in a buffered channel nobody reads.
func (p *Pipeline) fastPath(ctx context.Context, question string) (fastResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FastTimeout)
	defer cancel()

	ch := make(chan fastOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fastOutcome{err: fmt.Errorf("fast path panic: %v", r)}
			}
		}()
		res, err := p.answerFast(ctx, question)
		ch <- fastOutcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fastResult{}, ErrFastPathTimeout
		}
		return fastResult{}, ctx.Err()
	}
}

func (p *Pipeline) answerFast(ctx context.Context, question string) (fastResult, error) {
	var res fastResult
	prof := p.cfg.Fast

	if p.retriever != nil {
		docs, err := p.retriever.SimilaritySearch(ctx, question, prof.K)
		if err != nil {
			return res, fmt.Errorf("retrieve: %w", err)
		}
		for _, d := range docs {
			res.snippets = append(res.snippets, truncateRunes(d.Content, prof.SnippetRunes))
		}
		res.contextUsed = len(res.snippets) > 0
	}

	resp, err := p.gen.Generate(ctx, llm.Request{
		Model:       prof.Model,
		System:      fastSystemPrompt,
		Prompt:      fastPrompt(question, res.snippets),
		MaxTokens:   prof.MaxTokens,
		Temperature: prof.Temperature,
	})
	if err != nil {
		return res, fmt.Errorf("generate: %w", err)
	}

	res.text, err = llm.ExtractText(resp)
	if err != nil {
		return res, err
	}
	return res, nil
}
