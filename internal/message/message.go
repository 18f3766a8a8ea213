package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender represents who authored a chat message
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
	SenderBot   Sender = "bot"
)

// ErrorInfo contains error details
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Message represents one chat message inside a session. Messages are
// immutable once appended; Seq is assigned under the session's
// serialization point and orders messages within that session.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds a message with its server-assigned identity. The id embeds
// the session id and sequence so it is unique across sessions while
// staying sortable within one.
func New(sessionID string, seq int64, text string, sender Sender, ts time.Time) Message {
	return Message{
		ID:        fmt.Sprintf("%s#%d", sessionID, seq),
		Seq:       seq,
		SessionID: sessionID,
		Text:      text,
		Sender:    sender,
		Timestamp: ts,
	}
}

// MarshalJSON implements custom JSON marshaling for Message
func (m Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (Alias)(m),
		Timestamp: m.Timestamp.Format(time.RFC3339),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return err
		}
		m.Timestamp = t
	}

	return nil
}

// IsValidSender checks if the sender is a known sender type
func IsValidSender(s Sender) bool {
	switch s {
	case SenderUser, SenderAgent, SenderBot:
		return true
	default:
		return false
	}
}
