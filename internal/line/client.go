package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	defaultAPIBase = "https://api.line.me/v2/bot"

	// maxTextRunes is LINE's limit for a text message.
	maxTextRunes = 5000
	// maxMessages is LINE's limit for messages per reply or push.
	maxMessages = 5
)

// Client sends replies and pushes through the Messaging API.
type Client struct {
	token   string
	client  *http.Client
	apiBase string
	logger  *slog.Logger
}

func NewClient(channelAccessToken string, logger *slog.Logger) *Client {
	return &Client{
		token:   channelAccessToken,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: defaultAPIBase,
		logger:  logger,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply answers an event with its reply token. A token can be used once.
func (c *Client) Reply(ctx context.Context, replyToken string, texts ...string) error {
	return c.send(ctx, "/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   toMessages(texts),
	})
}

// Push sends messages to a user, group or room ID.
func (c *Client) Push(ctx context.Context, to string, texts ...string) error {
	return c.send(ctx, "/message/push", map[string]any{
		"to":       to,
		"messages": toMessages(texts),
	})
}

func (c *Client) send(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("line post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("line error %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("line error %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Debug("line message sent", "path", path)
	return nil
}

func toMessages(texts []string) []textMessage {
	if len(texts) > maxMessages {
		texts = texts[:maxMessages]
	}
	out := make([]textMessage, 0, len(texts))
	for _, t := range texts {
		out = append(out, textMessage{Type: "text", Text: truncate(t, maxTextRunes)})
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
