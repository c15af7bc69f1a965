package responder

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
)

const (
	contextMarker = "📚 "
	historyPrefix = "📚 History-informed answer:"
	generalPrefix = "💡 General answer:"
)

const (
	refusalNotice = "🚫 This bot is currently available only in approved talk rooms and to approved users."
	welcomeNotice = "✨ Hi! I answer questions using the LINE talk history that was uploaded in advance. Just ask."
	failureNotice = "🙏 Sorry, I couldn't put together a detailed answer this time. Please try asking again in a little while."
)

// fallbackPool is sent when the fast answer is unavailable.
var fallbackPool = []string{
	"🧠 Checking the chat history...",
	"🔍 Looking through past conversations, one moment...",
	"⏳ Got it! Working on a detailed answer...",
	"📖 Reading back through the history for you...",
	"💭 Thinking it over, I'll follow up shortly...",
}

const fastSystemPrompt = `You are a helpful assistant inside a LINE chat.
Reply in the same language as the question, in at most three short sentences.
If excerpts from past conversations are given, prefer facts from them.`

const deepSystemPrompt = `You are a knowledgeable assistant for a LINE talk room.
You can see excerpts of the room's past conversations, retrieved by similarity to the question.
Reply in the same language as the question. Be accurate and specific, and do not invent history that is not in the excerpts.`

const deepContextTemplate = `Relevant excerpts from past conversations were found.

%s

Question: %s

Answer the question using the excerpts above. Refer to who said what and when where it helps, and briefly explain how the history relates to the question. If the excerpts turn out not to be relevant, say so and answer from general knowledge.`

const deepNoContextTemplate = `No relevant past conversations were found for this question.

Question: %s

Answer from general knowledge. Make clear that the answer is not based on the talk history, and suggest what detail might help find it there.`

func fastPrompt(question string, snippets []string) string {
	if len(snippets) == 0 {
		return "Question: " + question
	}
	var sb strings.Builder
	sb.WriteString("Excerpts from past conversations:\n")
	for i, s := range snippets {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, s)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func deepPrompt(question string, docs []retrieval.Document, snippetRunes int) string {
	if len(docs) == 0 {
		return fmt.Sprintf(deepNoContextTemplate, question)
	}
	blocks := make([]string, 0, len(docs))
	for i, d := range docs {
		blocks = append(blocks, fmt.Sprintf("[History %d] %s\n%s", i+1, provenance(d), truncateRunes(d.Content, snippetRunes)))
	}
	return fmt.Sprintf(deepContextTemplate, strings.Join(blocks, "\n\n"), question)
}

// provenance summarises where a snippet came from.
func provenance(d retrieval.Document) string {
	var parts []string
	m := d.Metadata
	if m.TimeStart != "" {
		parts = append(parts, m.TimeStart+" - "+m.TimeEnd)
	}
	if len(m.Participants) > 0 {
		parts = append(parts, strings.Join(m.Participants, ", "))
	}
	if d.Score > 0 {
		parts = append(parts, fmt.Sprintf("relevance %.2f", d.Score))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
