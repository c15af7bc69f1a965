package chatlog

import "time"

// Kind classifies a parsed message.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindSticker Kind = "sticker"
	KindFile    Kind = "file"
	KindSystem  Kind = "system"
)

// SystemSender is the sender recorded for system-generated lines.
const SystemSender = "System"

const (
	timestampLayout = "2006/1/2 15:04"
	dateLayout      = "2006/1/2"
)

// Message is a single utterance or system event from an export log.
type Message struct {
	Timestamp string // "2024/1/23 9:20"; empty when no date header preceded the line
	Clock     string // "9:20" as written
	Sender    string
	Body      string
	Kind      Kind
	Raw       string
}

// Time parses the message timestamp. Date-only and empty timestamps report false.
func (m Message) Time() (time.Time, bool) {
	if m.Timestamp == "" || m.Clock == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, m.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Stamp returns the best available time label for display.
func (m Message) Stamp() string {
	if m.Timestamp != "" {
		return m.Timestamp
	}
	return m.Clock
}

// DateRange is the inclusive span of parseable message timestamps.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Metadata aggregates a parsed log. It is always derived from the message slice.
type Metadata struct {
	TotalMessages int          `json:"totalMessages"`
	Participants  []string     `json:"participants"`
	DateRange     DateRange    `json:"dateRange"`
	MessageTypes  map[Kind]int `json:"messageTypes"`
}
