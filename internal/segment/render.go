package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/mnemo/internal/chatlog"
)

const (
	// ChunkTypeConversation tags documents produced from conversation chunks.
	ChunkTypeConversation = "conversation"
	// SourceLineExport tags documents derived from LINE talk-history exports.
	SourceLineExport = "line_chat_export"
)

// Metadata is the side-record stored alongside every indexed piece of a chunk.
type Metadata struct {
	ChunkID             int            `json:"chunkId"`
	ChunkType           string         `json:"chunkType"`
	TimeStart           string         `json:"timeStart"`
	TimeEnd             string         `json:"timeEnd"`
	Participants        []string       `json:"participants"`
	MessageCount        int            `json:"messageCount"`
	MessageTypes        map[string]int `json:"messageTypes"`
	Source              string         `json:"source"`
	Processed           string         `json:"processed"`
	SubChunkID          int            `json:"subChunkId"`
	TotalSubChunks      int            `json:"totalSubChunks"`
	OriginalChunkLength int            `json:"originalChunkLength"`
}

// Render formats a chunk as the header block plus one line per message.
// total is the number of chunks in the run, used for the "i/N" ordinal.
func Render(c Chunk, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Conversation segment %d/%d ===\n", c.Index+1, total)
	fmt.Fprintf(&sb, "Time range: %s - %s\n", c.TimeStart, c.TimeEnd)
	fmt.Fprintf(&sb, "Participants: %s\n", strings.Join(c.Participants, ", "))
	fmt.Fprintf(&sb, "Messages: %d\n\n", len(c.Messages))

	for i, m := range c.Messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(renderLine(m))
	}
	return sb.String()
}

func renderLine(m chatlog.Message) string {
	switch m.Kind {
	case chatlog.KindSystem:
		return "[System] " + m.Body
	case chatlog.KindText:
		return m.Sender + ": " + m.Body
	default:
		return fmt.Sprintf("%s: [%s] %s", m.Sender, m.Kind, m.Body)
	}
}

// Describe builds the metadata side-record for a chunk. Sub-chunk fields are
// left zero; the ingest step fills them in per split piece.
func Describe(c Chunk, source string, processed time.Time) Metadata {
	types := make(map[string]int, len(c.MessageTypes))
	for k, n := range c.MessageTypes {
		types[string(k)] = n
	}
	participants := make([]string, len(c.Participants))
	copy(participants, c.Participants)

	return Metadata{
		ChunkID:      c.Index,
		ChunkType:    ChunkTypeConversation,
		TimeStart:    c.TimeStart,
		TimeEnd:      c.TimeEnd,
		Participants: participants,
		MessageCount: len(c.Messages),
		MessageTypes: types,
		Source:       source,
		Processed:    processed.UTC().Format(time.RFC3339),
	}
}

// WithSubChunk returns a copy of m annotated for one split piece.
func (m Metadata) WithSubChunk(id, total, originalLength int) Metadata {
	m.SubChunkID = id
	m.TotalSubChunks = total
	m.OriginalChunkLength = originalLength
	return m
}

// Document is a rendered chunk paired with its side-record.
type Document struct {
	Text     string
	Metadata Metadata
}

// Documents renders every chunk of a run.
func Documents(chunks []Chunk, source string, processed time.Time) []Document {
	docs := make([]Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, Document{
			Text:     Render(c, len(chunks)),
			Metadata: Describe(c, source, processed),
		})
	}
	return docs
}
