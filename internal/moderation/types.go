package moderation

import "context"

// CheckRequest is the payload sent to moderation.check by any process that
// wants a verdict from the moderator service.
type CheckRequest struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// CheckResult is the reply to a CheckRequest. Error is set only when the
// request itself could not be decoded.
type CheckResult struct {
	Blocked bool   `json:"blocked"`
	Stage   Stage  `json:"stage,omitempty"`
	Term    string `json:"term,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Verdict converts a reply back into a Verdict.
func (r CheckResult) Verdict() Verdict {
	return Verdict{Blocked: r.Blocked, Stage: r.Stage, Term: r.Term}
}

type subjectKey struct{}

type subject struct {
	user, conversation string
}

// WithSubject attaches the author and conversation of the text being
// screened to ctx. A remote Client forwards them to the moderator for its
// logs.
func WithSubject(ctx context.Context, userID, conversationID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject{user: userID, conversation: conversationID})
}

func subjectFrom(ctx context.Context) (userID, conversationID string) {
	s, _ := ctx.Value(subjectKey{}).(subject)
	return s.user, s.conversation
}
