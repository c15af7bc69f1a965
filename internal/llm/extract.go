package llm

import "strings"

// extractor reads one known response shape.
type extractor func(Response) (string, bool)

// extractors are tried in order; the first non-blank string wins.
var extractors = []extractor{
	field("response"),
	field("result"),
	nested("result", "response"),
	field("answer"),
	field("text"),
	anthropicContent,
	openAIChoice,
}

// ExtractText returns the generated text from a provider response, trying
// every known shape in a fixed order. Whitespace-only text counts as absent.
func ExtractText(resp Response) (string, error) {
	for _, ex := range extractors {
		if s, ok := ex(resp); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", ErrEmptyText
}

func field(name string) extractor {
	return func(r Response) (string, bool) {
		s, ok := r[name].(string)
		return s, ok
	}
}

func nested(outer, inner string) extractor {
	return func(r Response) (string, bool) {
		m, ok := r[outer].(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := m[inner].(string)
		return s, ok
	}
}

// anthropicContent joins the text blocks of a Messages API response.
func anthropicContent(r Response) (string, bool) {
	blocks, ok := r["content"].([]any)
	if !ok {
		return "", false
	}
	var sb strings.Builder
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "" && t != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String(), sb.Len() > 0
}

// openAIChoice reads choices[0].message.content.
func openAIChoice(r Response) (string, bool) {
	choices, ok := r["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := msg["content"].(string)
	return s, ok
}
