package segment

import (
	"time"

	"github.com/MikeSquared-Agency/mnemo/internal/chatlog"
)

const (
	defaultMaxMessages = 20
	defaultIdleGap     = 30 * time.Minute
)

// Options bounds chunk size and the idle gap that separates conversations.
type Options struct {
	MaxMessages int
	IdleGap     time.Duration
}

// DefaultOptions returns the 20-message / 30-minute policy.
func DefaultOptions() Options {
	return Options{MaxMessages: defaultMaxMessages, IdleGap: defaultIdleGap}
}

func (o Options) withDefaults() Options {
	if o.MaxMessages <= 0 {
		o.MaxMessages = defaultMaxMessages
	}
	if o.IdleGap <= 0 {
		o.IdleGap = defaultIdleGap
	}
	return o
}

// Chunk is a contiguous run of messages grouped for indexing.
type Chunk struct {
	Index        int
	Messages     []chatlog.Message
	TimeStart    string
	TimeEnd      string
	Participants []string // first-appearance order
	MessageTypes map[chatlog.Kind]int
}

// ChunkMessages groups messages into bounded, time-coherent segments.
// A new chunk starts when the current one is full or when the gap to the last
// parseable timestamp in it exceeds the idle gap. Messages without a parseable
// timestamp never force a break.
func ChunkMessages(msgs []chatlog.Message, opts Options) []Chunk {
	if len(msgs) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	var chunks []Chunk
	var current []chatlog.Message
	var last time.Time

	flush := func() {
		chunks = append(chunks, build(current, len(chunks)))
		current = nil
		last = time.Time{}
	}

	for _, msg := range msgs {
		t, ok := msg.Time()

		if len(current) >= opts.MaxMessages {
			flush()
		} else if len(current) > 0 && ok && !last.IsZero() && t.Sub(last) > opts.IdleGap {
			flush()
		}

		current = append(current, msg)
		if ok {
			last = t
		}
	}

	if len(current) > 0 {
		flush()
	}

	return chunks
}

// Flatten returns the messages of all chunks in order.
func Flatten(chunks []Chunk) []chatlog.Message {
	var out []chatlog.Message
	for _, c := range chunks {
		out = append(out, c.Messages...)
	}
	return out
}

func build(msgs []chatlog.Message, idx int) Chunk {
	c := Chunk{
		Index:        idx,
		Messages:     make([]chatlog.Message, len(msgs)),
		TimeStart:    msgs[0].Stamp(),
		TimeEnd:      msgs[len(msgs)-1].Stamp(),
		MessageTypes: make(map[chatlog.Kind]int),
	}
	copy(c.Messages, msgs)

	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.Sender] {
			seen[m.Sender] = true
			c.Participants = append(c.Participants, m.Sender)
		}
		c.MessageTypes[m.Kind]++
	}

	return c
}
