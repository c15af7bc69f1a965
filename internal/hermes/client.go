package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by mnemo.
const (
	SubjectIngestCompleted  = "mnemo.ingest.completed"
	SubjectIndexCleared     = "mnemo.index.cleared"
	SubjectResponseHandled  = "mnemo.response.handled"
	SubjectResponseEnriched = "mnemo.response.enriched"
)

// IngestCompleted is emitted after a chat export has been parsed and indexed.
type IngestCompleted struct {
	Messages     int      `json:"messages"`
	Chunks       int      `json:"chunks"`
	Documents    int      `json:"documents"`
	Participants []string `json:"participants"`
	IndexStatus  string   `json:"index_status"`
}

// IndexCleared is emitted when the document index is wiped.
type IndexCleared struct {
	Deleted int64 `json:"deleted"`
}

// ResponseHandled is emitted once per inbound event after the immediate reply.
type ResponseHandled struct {
	InteractionID       string `json:"interaction_id"`
	Origin              string `json:"origin"`
	OriginKind          string `json:"origin_kind"`
	Outcome             string `json:"outcome"`
	ContextUsed         bool   `json:"context_used"`
	EnrichmentScheduled bool   `json:"enrichment_scheduled"`
	LatencyMS           int64  `json:"latency_ms"`
}

// ResponseEnriched is emitted when the follow-up answer has been pushed or has failed.
type ResponseEnriched struct {
	InteractionID string `json:"interaction_id"`
	Origin        string `json:"origin"`
	ContextFound  bool   `json:"context_found"`
	Snippets      int    `json:"snippets"`
	Failed        bool   `json:"failed"`
	LatencyMS     int64  `json:"latency_ms"`
}

// Client publishes mnemo events to NATS.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
