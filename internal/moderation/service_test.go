package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/messaging"
)

// loopback answers requests in-process through a Service, standing in for a
// NATS round trip.
type loopback struct {
	svc     *Service
	subject string
	err     error
	raw     []byte
	last    CheckRequest
}

func (l *loopback) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	l.subject = subject
	l.last = CheckRequest{}
	_ = json.Unmarshal(data, &l.last)
	if l.err != nil {
		return nil, l.err
	}
	if l.raw != nil {
		return l.raw, nil
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("request without deadline")
	}
	return json.Marshal(l.svc.Evaluate(data))
}

func newTestService() *Service {
	return NewService(NewDefaultFilter(), nil, zap.NewNop())
}

func TestService_Evaluate(t *testing.T) {
	svc := newTestService()

	req, _ := json.Marshal(CheckRequest{UserID: "u1", ConversationID: "c1", Text: "you 1d10t"})
	res := svc.Evaluate(req)
	assert.True(t, res.Blocked)
	assert.Equal(t, StageDeleeted, res.Stage)
	assert.Equal(t, "idiot", res.Term)
	assert.Empty(t, res.Error)

	req, _ = json.Marshal(CheckRequest{Text: "want to study at the library?"})
	res = svc.Evaluate(req)
	assert.False(t, res.Blocked)
	assert.Equal(t, StageNone, res.Stage)
}

func TestService_EvaluateMissingText(t *testing.T) {
	svc := newTestService()

	for _, raw := range []string{`{}`, `{"text":null}`, `{"text":""}`} {
		res := svc.Evaluate([]byte(raw))
		assert.False(t, res.Blocked, raw)
		assert.Empty(t, res.Error, raw)
	}
}

func TestService_EvaluateMalformed(t *testing.T) {
	res := newTestService().Evaluate([]byte(`not json`))
	assert.False(t, res.Blocked)
	assert.Equal(t, "invalid request", res.Error)
}

func TestClient_Screen(t *testing.T) {
	lb := &loopback{svc: newTestService()}
	c := NewClient(lb, time.Second)

	v, err := c.Screen(context.Background(), "so d u m b")
	require.NoError(t, err)
	assert.Equal(t, messaging.SubjectModeration, lb.subject)
	assert.Equal(t, Verdict{Blocked: true, Stage: StageCompacted, Term: "dumb"}, v)

	v, err = c.Screen(context.Background(), "see you in the group call")
	require.NoError(t, err)
	assert.False(t, v.Blocked)
}

func TestClient_ScreenForwardsSubject(t *testing.T) {
	lb := &loopback{svc: newTestService()}
	c := NewClient(lb, time.Second)

	ctx := WithSubject(context.Background(), "alice", "conv1")
	_, err := c.Screen(ctx, "you 1d10t")
	require.NoError(t, err)
	assert.Equal(t, CheckRequest{UserID: "alice", ConversationID: "conv1", Text: "you 1d10t"}, lb.last)

	_, err = c.Screen(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, CheckRequest{Text: "hello"}, lb.last)
}

func TestClient_ScreenEmptySkipsRequest(t *testing.T) {
	lb := &loopback{err: errors.New("should not be called")}
	v, err := NewClient(lb, time.Second).Screen(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, v.Blocked)
	assert.Empty(t, lb.subject)
}

func TestClient_ScreenErrors(t *testing.T) {
	tests := []struct {
		name string
		lb   *loopback
	}{
		{"transport", &loopback{err: errors.New("no responders")}},
		{"garbage reply", &loopback{raw: []byte("<html>")}},
		{"service error", &loopback{raw: []byte(`{"error":"invalid request"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.lb, time.Second).Screen(context.Background(), "hello")
			assert.Error(t, err)
		})
	}
}
