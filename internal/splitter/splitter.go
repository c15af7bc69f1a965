// Package splitter breaks rendered conversation segments into pieces small
// enough to embed, preferring paragraph, then line, then word boundaries.
package splitter

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 300
)

// DefaultSeparators are tried in order; "" splits into single runes.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// LengthFunc measures a piece of text in the unit chunk sizes are expressed in.
type LengthFunc func(string) int

// RuneLength counts Unicode code points.
func RuneLength(s string) int { return utf8.RuneCountInString(s) }

// Recursive is a recursive character splitter with overlap between pieces.
type Recursive struct {
	size       int
	overlap    int
	separators []string
	length     LengthFunc
}

// Option configures a Recursive splitter.
type Option func(*Recursive)

// WithLength sets the length function. The default counts runes.
func WithLength(fn LengthFunc) Option {
	return func(r *Recursive) {
		if fn != nil {
			r.length = fn
		}
	}
}

// WithSeparators overrides DefaultSeparators.
func WithSeparators(seps ...string) Option {
	return func(r *Recursive) {
		if len(seps) > 0 {
			r.separators = seps
		}
	}
}

// New returns a splitter. A non-positive size selects DefaultChunkSize, a
// negative overlap becomes zero and an overlap not smaller than the size is
// reduced to a fifth of it.
func New(size, overlap int, opts ...Option) *Recursive {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	r := &Recursive{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
		length:     RuneLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recursive) ChunkSize() int    { return r.size }
func (r *Recursive) ChunkOverlap() int { return r.overlap }

// Split returns the pieces of text. Whitespace-only pieces are dropped.
func (r *Recursive) Split(text string) []string {
	return r.split(text, r.separators)
}

func (r *Recursive) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, s := range splitOn(text, separator) {
		if r.length(s) < r.size {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			final = append(final, r.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, s)
		} else {
			final = append(final, r.split(s, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, r.merge(good, separator)...)
	}
	return final
}

// merge packs splits into pieces of at most size, carrying up to overlap of
// trailing content into the next piece.
func (r *Recursive) merge(splits []string, separator string) []string {
	sepLen := r.length(separator)

	var docs, current []string
	total := 0
	for _, s := range splits {
		l := r.length(s)
		if total+l+joinCost(len(current), sepLen) > r.size && len(current) > 0 {
			if doc := join(current, separator); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > r.overlap || total+l+joinCost(len(current), sepLen) > r.size) {
				total -= r.length(current[0]) + joinCost(len(current)-1, sepLen)
				current = current[1:]
			}
		}
		current = append(current, s)
		total += l + joinCost(len(current)-1, sepLen)
	}
	if doc := join(current, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// joinCost is the separator length added when joining onto n existing parts.
func joinCost(n, sepLen int) int {
	if n > 0 {
		return sepLen
	}
	return 0
}

func join(parts []string, separator string) string {
	return strings.TrimSpace(strings.Join(parts, separator))
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, separator)
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
