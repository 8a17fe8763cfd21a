package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/audit"
	"github.com/studybuddy/tooty/internal/metrics"
	"github.com/studybuddy/tooty/internal/moderation"
	"github.com/studybuddy/tooty/internal/ratelimit"
	"github.com/studybuddy/tooty/internal/strike"
)

var (
	ErrInvalidMessage        = errors.New("chat: invalid message")
	ErrMuted                 = errors.New("chat: sender is muted")
	ErrRateLimited           = errors.New("chat: rate limited")
	ErrModerationUnavailable = errors.New("chat: moderation unavailable")

	// ErrInappropriate is returned when the filter blocks a message. The
	// message is neither stored nor delivered.
	ErrInappropriate = errors.New("chat: message contains inappropriate content")
)

// MutedError reports how long the sender remains muted.
type MutedError struct {
	Remaining time.Duration
}

func (e *MutedError) Error() string {
	return fmt.Sprintf("chat: sender is muted for %s", e.Remaining.Round(time.Second))
}

func (e *MutedError) Unwrap() error { return ErrMuted }

// BlockedError carries the verdict and the penalty applied for a blocked
// message.
type BlockedError struct {
	Verdict moderation.Verdict
	Penalty strike.Penalty
}

func (e *BlockedError) Error() string { return ErrInappropriate.Error() }

func (e *BlockedError) Unwrap() error { return ErrInappropriate }

// RateLimitedError reports how long until the sender's window reopens.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("chat: rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Screener decides whether a text may be posted.
type Screener interface {
	Screen(ctx context.Context, text string) (moderation.Verdict, error)
}

// MessageStore persists accepted messages.
type MessageStore interface {
	Insert(ctx context.Context, msg *Message) error
}

// HistoryStore reads back persisted messages.
type HistoryStore interface {
	ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Publisher fans accepted messages out to conversation members.
type Publisher interface {
	PublishChat(kind, conversationID string, data []byte) error
}

// Limiter throttles senders.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// retryAfterer is implemented by limiters that can tell how long a window
// has left.
type retryAfterer interface {
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// Strikes tracks repeat offenders.
type Strikes interface {
	IsMuted(ctx context.Context, user string) (bool, time.Duration, error)
	Record(ctx context.Context, user, reason string) (strike.Penalty, error)
}

// Auditor records blocked messages.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Deps are the collaborators of a Sender. Screener and Store are required;
// the rest are skipped when nil.
type Deps struct {
	Screener  Screener
	Store     MessageStore
	Publisher Publisher
	Limiter   Limiter
	Strikes   Strikes
	Auditor   Auditor
	Recent    *RecentBuffer
	Log       *zap.Logger
}

// Sender is the single path through which chat messages are posted.
type Sender struct {
	screener  Screener
	store     MessageStore
	publisher Publisher
	limiter   Limiter
	strikes   Strikes
	auditor   Auditor
	recent    *RecentBuffer
	log       *zap.Logger
	now       func() time.Time
}

// NewSender creates a Sender.
func NewSender(d Deps) *Sender {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	recent := d.Recent
	if recent == nil {
		recent = NewRecentBuffer(DefaultRecentMessages)
	}
	return &Sender{
		screener:  d.Screener,
		store:     d.Store,
		publisher: d.Publisher,
		limiter:   d.Limiter,
		strikes:   d.Strikes,
		auditor:   d.Auditor,
		recent:    recent,
		log:       log.With(zap.String("component", "chat")),
		now:       time.Now,
	}
}

// Send validates, screens and posts a message. On any error nothing has been
// persisted or published.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*Message, error) {
	start := s.now()
	msg, outcome, err := s.send(ctx, req)
	metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, err
}

func (s *Sender) send(ctx context.Context, req SendRequest) (*Message, string, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, "invalid", err
	}

	if s.strikes != nil {
		muted, remaining, err := s.strikes.IsMuted(ctx, req.SenderID)
		if err != nil {
			s.log.Warn("mute check failed", zap.String("user", req.SenderID), zap.Error(err))
		} else if muted {
			return nil, "muted", &MutedError{Remaining: remaining}
		}
	}

	if s.limiter != nil {
		// Limiter errors fail open and are logged by the limiter.
		if allowed, _ := s.limiter.Allow(ctx, req.SenderID, ratelimit.RuleMessage); !allowed {
			return nil, "rate_limited", &RateLimitedError{RetryAfter: s.retryAfter(ctx, req.SenderID)}
		}
	}

	text := *req.Text
	verdict, err := s.screener.Screen(moderation.WithSubject(ctx, req.SenderID, req.ConversationID), text)
	if err != nil {
		s.log.Error("screening failed", zap.String("user", req.SenderID), zap.Error(err))
		return nil, "unavailable", fmt.Errorf("%w: %v", ErrModerationUnavailable, err)
	}
	if verdict.Blocked {
		return nil, "inappropriate", s.block(ctx, req, verdict)
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Kind:           req.Kind,
		SenderID:       req.SenderID,
		Text:           text,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		s.log.Error("persist failed", zap.String("conversation", msg.ConversationID), zap.Error(err))
		return nil, "store_error", fmt.Errorf("chat: send: %w", err)
	}

	s.recent.Add(*msg)

	if s.publisher != nil {
		data, err := json.Marshal(msg)
		if err == nil {
			err = s.publisher.PublishChat(string(msg.Kind), msg.ConversationID, data)
		}
		if err != nil {
			s.log.Warn("publish failed",
				zap.String("message_id", msg.ID),
				zap.String("conversation", msg.ConversationID),
				zap.Error(err),
			)
		}
	}

	return msg, "accepted", nil
}

// retryAfter returns the time left in the sender's message window, or the
// whole window when the limiter cannot tell.
func (s *Sender) retryAfter(ctx context.Context, user string) time.Duration {
	rule := ratelimit.RuleMessage
	ra, ok := s.limiter.(retryAfterer)
	if !ok {
		return rule.Window
	}
	d, err := ra.RetryAfter(ctx, user, rule)
	if err != nil || d <= 0 {
		return rule.Window
	}
	return d
}

// block records the audit trail and strike for a blocked message.
func (s *Sender) block(ctx context.Context, req SendRequest, v moderation.Verdict) error {
	s.log.Info("message blocked",
		zap.String("user", req.SenderID),
		zap.String("conversation", req.ConversationID),
		zap.String("stage", string(v.Stage)),
		zap.String("term", v.Term),
	)

	if s.auditor != nil {
		ev := audit.Event{
			UserID:         req.SenderID,
			ConversationID: req.ConversationID,
			Kind:           string(req.Kind),
			Stage:          string(v.Stage),
			Term:           v.Term,
			Text:           *req.Text,
		}
		if err := s.auditor.Record(ctx, ev); err != nil {
			s.log.Error("audit record failed", zap.String("user", req.SenderID), zap.Error(err))
		}
	}

	blocked := &BlockedError{Verdict: v}
	if s.strikes != nil {
		p, err := s.strikes.Record(ctx, req.SenderID, "inappropriate")
		if err != nil {
			s.log.Error("strike record failed", zap.String("user", req.SenderID), zap.Error(err))
		} else {
			metrics.StrikesTotal.Inc()
			blocked.Penalty = p
			if p.Muted() {
				s.log.Info("user muted",
					zap.String("user", req.SenderID),
					zap.Int("strikes", p.Strikes),
					zap.Duration("duration", p.Mute),
				)
			}
		}
	}
	return blocked
}

// Recent returns the last accepted messages of a conversation, oldest first.
func (s *Sender) Recent(conversationID string) []Message {
	return s.recent.Get(conversationID)
}

// History returns the recent messages of a conversation, oldest first. The
// store is authoritative since it also holds messages accepted by other
// gateway processes. The in-memory buffer answers only when the store cannot
// list history, or as a fallback when the read fails.
func (s *Sender) History(ctx context.Context, conversationID string) ([]Message, error) {
	hs, ok := s.store.(HistoryStore)
	if !ok {
		return s.recent.Get(conversationID), nil
	}
	msgs, err := hs.ListRecent(ctx, conversationID, s.recent.size)
	if err != nil {
		if buffered := s.recent.Get(conversationID); len(buffered) > 0 {
			s.log.Warn("history read failed, serving buffer",
				zap.String("conversation", conversationID), zap.Error(err))
			return buffered, nil
		}
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
