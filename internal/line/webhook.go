// Package line holds the LINE Messaging API webhook types, signature
// verification and a minimal reply/push client.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
const SignatureHeader = "X-Line-Signature"

var (
	ErrMissingSignature = errors.New("missing LINE signature")
	ErrInvalidSignature = errors.New("invalid LINE signature")
)

// VerifySignature checks signature against the HMAC-SHA256 of body keyed by
// the channel secret.
func VerifySignature(channelSecret string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature LINE would send for body.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Payload is the webhook request body.
type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ParsePayload decodes a webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &p, nil
}

// Event types handled by the bot.
const (
	EventTypeMessage = "message"
	EventTypeFollow  = "follow"
)

// Event is one webhook event. Only the fields the bot reads are decoded.
type Event struct {
	Type       string        `json:"type"`
	ReplyToken string        `json:"replyToken"`
	Timestamp  int64         `json:"timestamp"`
	Source     Source        `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

// Text returns the message text for text-message events.
func (e Event) Text() (string, bool) {
	if e.Type != EventTypeMessage || e.Message == nil || e.Message.Type != "text" {
		return "", false
	}
	return e.Message.Text, true
}

// EventMessage is the message object of a message event.
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Source identifies the chat an event came from.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Origin maps the source to the ID used both for access checks and as the
// push target: the group or room for shared chats, the user otherwise.
func (s Source) Origin() access.Origin {
	switch s.Type {
	case "user":
		return access.Origin{ID: s.UserID, Kind: access.KindUser}
	case "group":
		return access.Origin{ID: s.GroupID, Kind: access.KindGroup}
	case "room":
		return access.Origin{ID: s.RoomID, Kind: access.KindRoom}
	default:
		return access.Origin{Kind: access.KindUnknown}
	}
}
