// Package protocol defines the WebSocket message types exchanged between chat
// clients and the gateway. All messages are JSON objects with a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendMessage = "send_message"
	TypeHistory     = "history"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated  = "session_created"
	TypeMessageAccepted = "message_accepted"
	TypeMessageRejected = "message_rejected"
	TypeMessage         = "message"
	TypeHistoryResult   = "history"
	TypeError           = "error"
	TypePong            = "pong"
)

// Rejection codes carried by MessageRejectedMsg.
const (
	CodeInappropriate  = "inappropriate"
	CodeMuted          = "muted"
	CodeRateLimited    = "rate_limited"
	CodeInvalidMessage = "invalid_message"
	CodeUnavailable    = "unavailable"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg posts text to a conversation. Text is a pointer so that a
// missing or null text can be told apart from an empty one.
type SendMessageMsg struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	Kind           string  `json:"kind"`
	Text           *string `json:"text"`
}

// HistoryMsg asks for the recent messages of a conversation and subscribes
// the connection to it.
type HistoryMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once the connection is registered.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// MessageAcceptedMsg acknowledges a posted message.
type MessageAcceptedMsg struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Ts             int64  `json:"ts"`
}

// MessageRejectedMsg tells the sender their message was not posted.
// RetryAfter is in seconds and set for muted and rate limited senders.
type MessageRejectedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfter     int    `json:"retry_after,omitempty"`
}

// ServerChatMsg is an accepted message delivered to conversation members.
type ServerChatMsg struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
	From           string `json:"from"`
	Text           string `json:"text"`
	Ts             int64  `json:"ts"`
}

// HistoryResultMsg carries a conversation's recent messages, oldest first.
type HistoryResultMsg struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Messages       []ServerChatMsg `json:"messages"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Unknown and server-only message types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistory:
		var m HistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals payload to JSON with its "type" key set to
// msgType.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
