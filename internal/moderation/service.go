package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/messaging"
	"github.com/studybuddy/tooty/internal/metrics"
)

// Service answers moderation.check requests with the verdict of a local
// Filter.
type Service struct {
	filter *Filter
	nats   *messaging.Client
	log    *zap.Logger
}

// NewService creates a moderator bound to a NATS client.
func NewService(filter *Filter, nc *messaging.Client, log *zap.Logger) *Service {
	return &Service{
		filter: filter,
		nats:   nc,
		log:    log.With(zap.String("component", "moderator")),
	}
}

// Start joins the moderators queue group.
func (s *Service) Start() error {
	if err := s.nats.QueueSubscribe("moderation", messaging.SubjectModeration, messaging.QueueModerators, s.handle); err != nil {
		return err
	}
	s.log.Info("service started", zap.Int("terms", len(s.filter.terms)))
	return nil
}

func (s *Service) handle(msg *nats.Msg) {
	reply := s.Evaluate(msg.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Error("marshal result", zap.Error(err))
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("respond", zap.Error(err))
	}
}

// Evaluate decodes one raw request and produces its reply.
func (s *Service) Evaluate(data []byte) CheckResult {
	var req CheckRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("invalid request", zap.Error(err))
		return CheckResult{Error: "invalid request"}
	}

	start := time.Now()
	v := s.filter.Check(req.Text)
	metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	metrics.ObserveVerdict(string(v.Stage))

	if v.Blocked {
		s.log.Info("flagged",
			zap.String("user", req.UserID),
			zap.String("conversation", req.ConversationID),
			zap.String("stage", string(v.Stage)),
			zap.String("term", v.Term))
	}
	return CheckResult{Blocked: v.Blocked, Stage: v.Stage, Term: v.Term}
}

// Requester is the part of messaging.Client a Client needs.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Client asks a remote moderator for verdicts.
type Client struct {
	nats    Requester
	timeout time.Duration
}

// NewClient returns a Client. timeout bounds each request when the caller's
// context has no earlier deadline.
func NewClient(r Requester, timeout time.Duration) *Client {
	return &Client{nats: r, timeout: timeout}
}

// Screen sends text to the moderator service. Transport failures are
// returned; callers decide whether to fail open or closed.
func (c *Client) Screen(ctx context.Context, text string) (Verdict, error) {
	if text == "" {
		return Verdict{}, nil
	}
	user, conv := subjectFrom(ctx)
	data, err := json.Marshal(CheckRequest{UserID: user, ConversationID: conv, Text: text})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: marshal request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.nats.Request(ctx, messaging.SubjectModeration, data)
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: check: %w", err)
	}

	var res CheckResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Verdict{}, fmt.Errorf("moderation: decode result: %w", err)
	}
	if res.Error != "" {
		return Verdict{}, errors.New("moderation: " + res.Error)
	}
	return res.Verdict(), nil
}
