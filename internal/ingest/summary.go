package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/mnemo/internal/chatlog"
)

// FormatSummary renders a result as Slack mrkdwn.
func FormatSummary(res *Result) string {
	var sb strings.Builder
	sum := res.Summary

	fmt.Fprintf(&sb, "*Ingested %d messages* from %d participants\n", sum.OriginalMessages, len(sum.Participants))
	if sum.DateRange.Start != "" {
		fmt.Fprintf(&sb, "*Range:* %s - %s\n", sum.DateRange.Start, sum.DateRange.End)
	}
	fmt.Fprintf(&sb, "*Segments:* %d | *Documents:* %d\n", sum.ConversationChunks, sum.FinalDocumentChunks)
	fmt.Fprintf(&sb, "*Index:* %s", res.Processing.IndexStatus)
	if res.Processing.EmbeddingModel != "" {
		fmt.Fprintf(&sb, " (%s)", res.Processing.EmbeddingModel)
	}
	if len(sum.Participants) > 0 {
		fmt.Fprintf(&sb, "\n*Participants:* %s", strings.Join(sum.Participants, ", "))
	}
	return sb.String()
}

func formatMessageTypes(types map[chatlog.Kind]int) string {
	if len(types) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(types))
	for k := range types {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var sb strings.Builder
	sb.WriteString("Message types:")
	for _, k := range kinds {
		fmt.Fprintf(&sb, "\n- %s: %d", k, types[chatlog.Kind(k)])
	}
	return sb.String()
}
