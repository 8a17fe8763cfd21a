package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// ValidateMessage checks that a chat message text meets content requirements.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is empty", ErrInvalidMessage)
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: message exceeds %d byte limit", ErrInvalidMessage, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message contains invalid UTF-8", ErrInvalidMessage)
	}
	// Postgres TEXT cannot hold NUL.
	if strings.IndexByte(text, 0) >= 0 {
		return fmt.Errorf("%w: message contains a NUL byte", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: message exceeds %d character limit", ErrInvalidMessage, MaxTextChars)
	}
	return nil
}

// ValidateConversationID checks that id can stand as the last token of a
// chat subject: non-empty, valid UTF-8, and free of the NATS separator,
// wildcards, whitespace and control characters.
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing conversation", ErrInvalidMessage)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: conversation id is not valid UTF-8", ErrInvalidMessage)
	}
	for _, r := range id {
		switch {
		case r == '.' || r == '*' || r == '>':
		case unicode.IsSpace(r) || unicode.IsControl(r):
		default:
			continue
		}
		return fmt.Errorf("%w: conversation id %q contains %q", ErrInvalidMessage, id, r)
	}
	return nil
}

// ValidateRequest checks addressing and text of a send request.
func ValidateRequest(req SendRequest) error {
	if req.SenderID == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if err := ValidateConversationID(req.ConversationID); err != nil {
		return err
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown conversation kind %q", ErrInvalidMessage, req.Kind)
	}
	return ValidateMessage(req.TextOrEmpty())
}
