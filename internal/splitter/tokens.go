package splitter

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenLength returns a LengthFunc counting tokens with the tokenizer for
// model, falling back to cl100k_base for unknown models.
func TokenLength(model string) (LengthFunc, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}
