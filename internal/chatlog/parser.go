package chatlog

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	dateHeaderRe = regexp.MustCompile(`^(\d{4}/\d{1,2}/\d{1,2})\((?:月|火|水|木|金|土|日|Mon|Tue|Wed|Thu|Fri|Sat|Sun)\)$`)
	messageRe    = regexp.MustCompile(`^(\d{1,2}:\d{2})\t([^\t]+)\t(.+)$`)
	clockTabRe   = regexp.MustCompile(`^\d{1,2}:\d{2}\t`)
)

// headerMarkers identify the export's title and "saved at" lines.
var headerMarkers = []string{"[LINE]", "保存日時：", "Saved on:"}

// kindTokens is checked in order; the first kind with a matching token wins.
var kindTokens = []struct {
	kind   Kind
	tokens []string
}{
	{KindSticker, []string{"[スタンプ]", "[Sticker]"}},
	{KindImage, []string{"[画像]", "[Image]", "[Photo]"}},
	{KindFile, []string{"[ファイル]", "[File]"}},
}

var systemAliases = map[string]bool{
	SystemSender: true,
	"システム":       true,
	"LINE":       true,
}

type options struct {
	dateMarkers bool
}

// Option configures Parse.
type Option func(*options)

// WithDateMarkers emits a system message for every date header.
func WithDateMarkers() Option {
	return func(o *options) { o.dateMarkers = true }
}

// Parse converts a LINE talk-history export into messages and aggregate metadata.
// It never fails: malformed input yields no messages and zeroed metadata.
func Parse(raw string, opts ...Option) ([]Message, Metadata) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var msgs []Message
	currentDate := ""

	raw = strings.TrimPrefix(raw, "\ufeff")
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.TrimSpace(line) == "" || isHeader(line) {
			continue
		}

		if m := dateHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			currentDate = m[1]
			if o.dateMarkers {
				msgs = append(msgs, Message{
					Timestamp: currentDate,
					Sender:    SystemSender,
					Body:      strings.TrimSpace(line),
					Kind:      KindSystem,
					Raw:       line,
				})
			}
			continue
		}

		if m := messageRe.FindStringSubmatch(line); m != nil {
			clock, sender, body := m[1], strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
			ts := ""
			if currentDate != "" {
				ts = currentDate + " " + clock
			}
			msgs = append(msgs, Message{
				Timestamp: ts,
				Clock:     clock,
				Sender:    sender,
				Body:      body,
				Kind:      classify(sender, body),
				Raw:       line,
			})
			continue
		}

		// A clock-tab prefix that failed the full pattern is a broken message line, not prose.
		if clockTabRe.MatchString(line) || len(msgs) == 0 {
			continue
		}

		last := &msgs[len(msgs)-1]
		last.Body += "\n" + strings.TrimSpace(line)
		last.Raw += "\n" + line
	}

	return msgs, Summarize(msgs)
}

// Summarize computes metadata for a message slice.
func Summarize(msgs []Message) Metadata {
	meta := Metadata{
		TotalMessages: len(msgs),
		Participants:  []string{},
		MessageTypes:  make(map[Kind]int),
	}

	seen := make(map[string]bool)
	var start, end time.Time
	for _, m := range msgs {
		if !seen[m.Sender] {
			seen[m.Sender] = true
			meta.Participants = append(meta.Participants, m.Sender)
		}
		meta.MessageTypes[m.Kind]++

		t, ok := m.Time()
		if !ok {
			continue
		}
		if start.IsZero() || t.Before(start) {
			start = t
			meta.DateRange.Start = m.Timestamp
		}
		if end.IsZero() || t.After(end) {
			end = t
			meta.DateRange.End = m.Timestamp
		}
	}
	sort.Strings(meta.Participants)

	return meta
}

func isHeader(line string) bool {
	line = strings.TrimSpace(line)
	for _, marker := range headerMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

func classify(sender, body string) Kind {
	for _, kt := range kindTokens {
		for _, tok := range kt.tokens {
			if strings.Contains(body, tok) {
				return kt.kind
			}
		}
	}
	if systemAliases[sender] {
		return KindSystem
	}
	return KindText
}
