// Package chat implements the message submission path for direct and group
// conversations. Every message is screened by the moderation filter before
// anything is persisted or delivered.
package chat

import "time"

// Kind distinguishes one-to-one conversations from study groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Valid reports whether k is a known conversation kind.
func (k Kind) Valid() bool {
	return k == KindDirect || k == KindGroup
}

// Message is an accepted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Kind           Kind      `json:"kind"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendRequest is a user's attempt to post Text to a conversation. Text is
// optional on the wire; a nil Text is rejected as empty.
type SendRequest struct {
	SenderID       string
	ConversationID string
	Kind           Kind
	Text           *string
}

// TextOrEmpty returns the request text, or "" when absent.
func (r SendRequest) TextOrEmpty() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}
