package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
	"github.com/MikeSquared-Agency/mnemo/internal/line"
	"github.com/MikeSquared-Agency/mnemo/internal/llm"
	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
	"github.com/MikeSquared-Agency/mnemo/internal/segment"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type sent struct {
	to    string
	texts []string
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []sent
	pushes   []sent
	replyErr func(n int) error
}

func (m *fakeMessenger) Reply(_ context.Context, token string, texts ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.replies)
	if m.replyErr != nil {
		if err := m.replyErr(n); err != nil {
			m.replies = append(m.replies, sent{to: token})
			return err
		}
	}
	m.replies = append(m.replies, sent{to: token, texts: texts})
	return nil
}

func (m *fakeMessenger) Push(_ context.Context, to string, texts ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, sent{to: to, texts: texts})
	return nil
}

// syncScheduler runs tasks inline so tests can observe their effects.
type syncScheduler struct {
	names []string
}

func (s *syncScheduler) Go(ctx context.Context, name string, task func(context.Context)) bool {
	s.names = append(s.names, name)
	task(context.WithoutCancel(ctx))
	return true
}

type fakeRetriever struct {
	docs []retrieval.Document
	err  error
	ks   []int
}

func (r *fakeRetriever) SimilaritySearch(_ context.Context, _ string, k int) ([]retrieval.Document, error) {
	r.ks = append(r.ks, k)
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.docs) {
		return r.docs[:k], nil
	}
	return r.docs, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, data)
	return nil
}

func textGen(text string) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, _ llm.Request) (llm.Response, error) {
		return llm.Response{"response": text}, nil
	})
}

func textEvent(token, userID, text string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: token,
		Source:     line.Source{Type: "user", UserID: userID},
		Message:    &line.EventMessage{ID: "m1", Type: "text", Text: text},
	}
}

func historyDocs() []retrieval.Document {
	return []retrieval.Document{
		{ID: "d1", Content: "Alice: lunch at noon", Score: 0.9, Metadata: segment.Metadata{TimeStart: "2024/1/23 12:00", TimeEnd: "2024/1/23 12:05", Participants: []string{"Alice"}}},
		{ID: "d2", Content: "Bob: sure", Score: 0.8},
	}
}

func TestHandleEvent_FastSuccessSchedulesOneEnrichment(t *testing.T) {
	msgr := &fakeMessenger{}
	sched := &syncScheduler{}
	ret := &fakeRetriever{docs: historyDocs()}
	pub := &recordingPublisher{}
	p := New(DefaultConfig(), textGen("  noon  "), msgr, sched, discardLogger(), WithRetriever(ret), WithPublisher(pub))

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "when is lunch?"), access.AllowList{})

	if a.Outcome != OutcomeFast {
		t.Fatalf("outcome = %q, want fast (err %v)", a.Outcome, a.Err)
	}
	if !a.ContextUsed || len(a.Snippets) != 2 {
		t.Errorf("context used = %v, snippets = %d", a.ContextUsed, len(a.Snippets))
	}
	if a.ReplyText != contextMarker+"noon" {
		t.Errorf("reply = %q", a.ReplyText)
	}
	if len(msgr.replies) != 1 || msgr.replies[0].to != "tok" {
		t.Fatalf("replies = %+v", msgr.replies)
	}
	if !a.EnrichmentScheduled || len(sched.names) != 1 {
		t.Fatalf("scheduled = %v, tasks = %v", a.EnrichmentScheduled, sched.names)
	}
	if len(msgr.pushes) != 1 || msgr.pushes[0].to != "U1" {
		t.Fatalf("pushes = %+v", msgr.pushes)
	}
	if got := msgr.pushes[0].texts[0]; got != historyPrefix+"\nnoon" {
		t.Errorf("push = %q", got)
	}
	if len(ret.ks) != 2 || ret.ks[0] != 2 || ret.ks[1] != 5 {
		t.Errorf("retrieval depths = %v, want [2 5]", ret.ks)
	}
	if a.InteractionID == "" {
		t.Error("expected interaction id")
	}

	if len(pub.subjects) != 2 {
		t.Fatalf("published %v", pub.subjects)
	}
	if pub.subjects[0] != hermes.SubjectResponseEnriched || pub.subjects[1] != hermes.SubjectResponseHandled {
		t.Errorf("subjects = %v", pub.subjects)
	}
}

func TestHandleEvent_DeniedSchedulesNothing(t *testing.T) {
	msgr := &fakeMessenger{}
	sched := &syncScheduler{}
	called := false
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (llm.Response, error) {
		called = true
		return llm.Response{"response": "x"}, nil
	})
	p := New(DefaultConfig(), gen, msgr, sched, discardLogger())

	a := p.HandleEvent(context.Background(), textEvent("tok", "U-stranger", "hi"), access.ParseAllowList("U1,C2"))

	if a.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %q, want denied", a.Outcome)
	}
	if len(msgr.replies) != 1 || msgr.replies[0].texts[0] != refusalNotice {
		t.Errorf("replies = %+v", msgr.replies)
	}
	if called {
		t.Error("generator should not run for denied events")
	}
	if len(sched.names) != 0 || a.EnrichmentScheduled {
		t.Error("denied events must not schedule enrichment")
	}
}

func TestHandleEvent_GroupOriginAllowed(t *testing.T) {
	msgr := &fakeMessenger{}
	sched := &syncScheduler{}
	p := New(DefaultConfig(), textGen("ok"), msgr, sched, discardLogger())

	ev := textEvent("tok", "U-someone", "hi")
	ev.Source = line.Source{Type: "group", GroupID: "C2", UserID: "U-someone"}
	a := p.HandleEvent(context.Background(), ev, access.ParseAllowList("U1,C2"))

	if a.Outcome != OutcomeFast {
		t.Fatalf("outcome = %q", a.Outcome)
	}
	if len(msgr.pushes) != 1 || msgr.pushes[0].to != "C2" {
		t.Errorf("enrichment should push to the group, got %+v", msgr.pushes)
	}
}

func TestHandleEvent_TimeoutFallsBack(t *testing.T) {
	msgr := &fakeMessenger{}
	sched := &syncScheduler{}
	var calls int
	var mu sync.Mutex
	gen := llm.GeneratorFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return llm.Response{"response": "detailed"}, nil
	})
	cfg := DefaultConfig()
	cfg.FastTimeout = 20 * time.Millisecond
	p := New(cfg, gen, msgr, sched, discardLogger(), WithPicker(func(int) int { return 2 }))

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFallback {
		t.Fatalf("outcome = %q, want fallback", a.Outcome)
	}
	if !errors.Is(a.Err, ErrFastPathTimeout) {
		t.Errorf("err = %v, want ErrFastPathTimeout", a.Err)
	}
	if a.ReplyText != fallbackPool[2] {
		t.Errorf("reply = %q", a.ReplyText)
	}
	if !a.EnrichmentScheduled || len(msgr.pushes) != 1 {
		t.Fatalf("expected one enrichment push, got %+v", msgr.pushes)
	}
	if msgr.pushes[0].texts[0] != generalPrefix+"\ndetailed" {
		t.Errorf("push = %q", msgr.pushes[0].texts[0])
	}
}

func TestHandleEvent_GeneratorErrorFallsBack(t *testing.T) {
	msgr := &fakeMessenger{}
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{"unexpected": true}, nil
	})
	p := New(DefaultConfig(), gen, msgr, &syncScheduler{}, discardLogger(), WithPicker(func(int) int { return 0 }))

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFallback {
		t.Fatalf("outcome = %q", a.Outcome)
	}
	if !errors.Is(a.Err, llm.ErrEmptyText) {
		t.Errorf("err = %v", a.Err)
	}
	if len(msgr.pushes) != 1 || msgr.pushes[0].texts[0] != failureNotice {
		t.Errorf("pushes = %+v, want failure notice", msgr.pushes)
	}
}

func TestHandleEvent_FastReplyFailureUsesFallback(t *testing.T) {
	msgr := &fakeMessenger{replyErr: func(n int) error {
		if n == 0 {
			return errors.New("reply token expired")
		}
		return nil
	}}
	p := New(DefaultConfig(), textGen("ok"), msgr, &syncScheduler{}, discardLogger(), WithPicker(func(int) int { return 1 }))

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFallback || a.ReplyText != fallbackPool[1] {
		t.Fatalf("outcome = %q reply = %q", a.Outcome, a.ReplyText)
	}
	if !a.EnrichmentScheduled {
		t.Error("expected enrichment after fallback")
	}
}

func TestHandleEvent_AllRepliesFail(t *testing.T) {
	msgr := &fakeMessenger{replyErr: func(int) error { return errors.New("down") }}
	sched := &syncScheduler{}
	p := New(DefaultConfig(), textGen("ok"), msgr, sched, discardLogger())

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFailed || a.Err == nil {
		t.Fatalf("outcome = %q err = %v", a.Outcome, a.Err)
	}
	if len(sched.names) != 0 {
		t.Error("no enrichment when nothing was acknowledged")
	}
}

func TestHandleEvent_Follow(t *testing.T) {
	tests := []struct {
		name  string
		allow access.AllowList
		want  string
	}{
		{"open bot welcomes", access.AllowList{}, welcomeNotice},
		{"restricted bot explains", access.ParseAllowList("U1"), refusalNotice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgr := &fakeMessenger{}
			sched := &syncScheduler{}
			p := New(DefaultConfig(), textGen("x"), msgr, sched, discardLogger())

			ev := line.Event{Type: line.EventTypeFollow, ReplyToken: "tok", Source: line.Source{Type: "user", UserID: "U-new"}}
			a := p.HandleEvent(context.Background(), ev, tt.allow)

			if a.Outcome != OutcomeWelcome {
				t.Errorf("outcome = %q", a.Outcome)
			}
			if len(msgr.replies) != 1 || msgr.replies[0].texts[0] != tt.want {
				t.Errorf("replies = %+v", msgr.replies)
			}
			if len(sched.names) != 0 {
				t.Error("follow must not schedule enrichment")
			}
		})
	}
}

func TestHandleEvent_NonTextSkipped(t *testing.T) {
	msgr := &fakeMessenger{}
	p := New(DefaultConfig(), textGen("x"), msgr, &syncScheduler{}, discardLogger())

	ev := line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: "tok",
		Source:     line.Source{Type: "user", UserID: "U1"},
		Message:    &line.EventMessage{ID: "m", Type: "sticker"},
	}
	a := p.HandleEvent(context.Background(), ev, access.AllowList{})

	if a.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %q", a.Outcome)
	}
	if len(msgr.replies) != 0 {
		t.Errorf("unexpected replies %+v", msgr.replies)
	}
}

func TestHandleEvent_EmptyOriginSkipsEnrichment(t *testing.T) {
	msgr := &fakeMessenger{}
	sched := &syncScheduler{}
	p := New(DefaultConfig(), textGen("x"), msgr, sched, discardLogger())

	ev := textEvent("tok", "", "hi")
	a := p.HandleEvent(context.Background(), ev, access.AllowList{})

	if a.Outcome != OutcomeFast {
		t.Fatalf("outcome = %q", a.Outcome)
	}
	if a.EnrichmentScheduled || len(sched.names) != 0 {
		t.Error("no push target, enrichment should be skipped")
	}
}

func TestHandleEvent_RetrievalErrorDegrades(t *testing.T) {
	msgr := &fakeMessenger{}
	ret := &fakeRetriever{err: errors.New("db down")}
	p := New(DefaultConfig(), textGen("x"), msgr, &syncScheduler{}, discardLogger(), WithRetriever(ret), WithPicker(func(int) int { return 0 }))

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFallback {
		t.Fatalf("outcome = %q", a.Outcome)
	}
	if len(msgr.pushes) != 1 || msgr.pushes[0].texts[0] != failureNotice {
		t.Errorf("pushes = %+v", msgr.pushes)
	}
}

func TestHandleBatch_IsolatesFailures(t *testing.T) {
	msgr := &fakeMessenger{}
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		if strings.Contains(req.Prompt, "boom") {
			panic("generator exploded")
		}
		return llm.Response{"response": "fine"}, nil
	})
	p := New(DefaultConfig(), gen, msgr, &syncScheduler{}, discardLogger(), WithPicker(func(int) int { return 0 }))

	events := []line.Event{
		textEvent("t1", "U1", "first"),
		textEvent("t2", "U2", "boom"),
		{Type: "unfollow", Source: line.Source{Type: "user", UserID: "U3"}},
		textEvent("t4", "U4", "last"),
	}
	attempts := p.HandleBatch(context.Background(), events, access.AllowList{})

	if len(attempts) != 4 {
		t.Fatalf("attempts = %d", len(attempts))
	}
	if attempts[0].Outcome != OutcomeFast || attempts[3].Outcome != OutcomeFast {
		t.Errorf("outcomes = %q, %q", attempts[0].Outcome, attempts[3].Outcome)
	}
	if attempts[2].Outcome != OutcomeSkipped {
		t.Errorf("unfollow outcome = %q", attempts[2].Outcome)
	}
	if attempts[1].Outcome == OutcomeFast {
		t.Errorf("panicking event should not succeed")
	}
}

func TestHandleBatch_PanicInHandlerIsContained(t *testing.T) {
	msgr := &fakeMessenger{}
	p := New(DefaultConfig(), textGen("ok"), msgr, panicScheduler{}, discardLogger())

	attempts := p.HandleBatch(context.Background(), []line.Event{
		textEvent("t1", "U1", "a"),
		textEvent("t2", "U2", "b"),
	}, access.AllowList{})

	for i, a := range attempts {
		if a.Outcome != OutcomeFailed || a.Err == nil {
			t.Errorf("attempt %d = %q %v, want failed", i, a.Outcome, a.Err)
		}
	}
	if len(msgr.replies) != 2 {
		t.Errorf("both events should have been acknowledged, got %d replies", len(msgr.replies))
	}
}

type panicScheduler struct{}

func (panicScheduler) Go(context.Context, string, func(context.Context)) bool {
	panic("scheduler broken")
}

func TestDeepPrompt(t *testing.T) {
	got := deepPrompt("when?", historyDocs(), 5)
	if !strings.Contains(got, "[History 1] (2024/1/23 12:00 - 2024/1/23 12:05 | Alice | relevance 0.90)\nAlice…") {
		t.Errorf("prompt missing first block:\n%s", got)
	}
	if !strings.Contains(got, "Question: when?") {
		t.Error("prompt missing question")
	}

	none := deepPrompt("when?", nil, 5)
	if !strings.Contains(none, "No relevant past conversations") {
		t.Errorf("no-context prompt = %q", none)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("おはようございます", 3); got != "おはよ…" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

// ctxMessenger fails deliveries whose context is already done, like a real HTTP client.
type ctxMessenger struct {
	fakeMessenger
}

func (m *ctxMessenger) Push(ctx context.Context, to string, texts ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.fakeMessenger.Push(ctx, to, texts...)
}

func TestEnrichment_NoticeSurvivesTaskDeadline(t *testing.T) {
	msgr := &ctxMessenger{}
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		if req.System == fastSystemPrompt {
			return llm.Response{"response": "quick"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := NewDispatcher(1, 50*time.Millisecond, discardLogger())
	p := New(DefaultConfig(), gen, msgr, d, discardLogger())

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})
	if a.Outcome != OutcomeFast || !a.EnrichmentScheduled {
		t.Fatalf("outcome = %q, scheduled = %v", a.Outcome, a.EnrichmentScheduled)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.pushes) != 1 || msgr.pushes[0].texts[0] != failureNotice {
		t.Errorf("pushes = %+v, want one failure notice", msgr.pushes)
	}
}

func TestEnrichment_PanicSendsNotice(t *testing.T) {
	msgr := &fakeMessenger{}
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		if req.System == deepSystemPrompt {
			panic("deep model exploded")
		}
		return llm.Response{"response": "quick"}, nil
	})
	p := New(DefaultConfig(), gen, msgr, &syncScheduler{}, discardLogger())

	a := p.HandleEvent(context.Background(), textEvent("tok", "U1", "hi"), access.AllowList{})

	if a.Outcome != OutcomeFast {
		t.Fatalf("outcome = %q", a.Outcome)
	}
	if len(msgr.pushes) != 1 || msgr.pushes[0].texts[0] != failureNotice {
		t.Errorf("pushes = %+v, want failure notice", msgr.pushes)
	}
}
