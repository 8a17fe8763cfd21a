// Package gateway connects WebSocket clients to the chat submission path.
// It turns client frames into chat.SendRequest values, reports outcomes back
// as protocol messages, and relays messages published on a conversation's
// chat subject to the connections following it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/chat"
	"github.com/studybuddy/tooty/internal/protocol"
	"github.com/studybuddy/tooty/internal/ratelimit"
	"github.com/studybuddy/tooty/internal/ws"
)

// Poster is the chat submission path.
type Poster interface {
	Send(ctx context.Context, req chat.SendRequest) (*chat.Message, error)
	History(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Subscriber delivers conversation traffic.
type Subscriber interface {
	SubscribeChat(key, kind, conversationID string, handler func(data []byte)) error
	Unsubscribe(key string) error
}

// Writer is where replies for one connection go.
type Writer interface {
	WriteMessage(data []byte) error
}

// Gateway handles chat traffic for one gateway process.
type Gateway struct {
	poster     Poster
	subscriber Subscriber
	timeout    time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	follows map[string]map[string]struct{} // conn_id -> subscription keys
	gone    map[string]time.Time           // conn_id -> when it disconnected
}

// goneTTL is how long a disconnected connection is remembered, so that a
// handler still in flight does not subscribe on its behalf.
const goneTTL = time.Minute

// New creates a Gateway. timeout bounds each send; zero means no bound.
func New(poster Poster, subscriber Subscriber, timeout time.Duration, log *zap.Logger) *Gateway {
	return &Gateway{
		poster:     poster,
		subscriber: subscriber,
		timeout:    timeout,
		log:        log.With(zap.String("component", "gateway")),
		follows:    make(map[string]map[string]struct{}),
		gone:       make(map[string]time.Time),
	}
}

// Register installs the gateway's handlers on d.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		g.HandleSend(conn, conn.ID, conn.UserID, m)
	})
	d.Register(protocol.TypeHistory, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.HistoryMsg)
		if !ok {
			return
		}
		g.HandleHistory(conn, conn.ID, m)
	})
}

// HandleSend posts a message for userID and replies on w with
// message_accepted or message_rejected. The sending connection follows the
// conversation afterwards.
func (g *Gateway) HandleSend(w Writer, connID, userID string, m protocol.SendMessageMsg) {
	ctx := context.Background()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msg, err := g.poster.Send(ctx, chat.SendRequest{
		SenderID:       userID,
		ConversationID: m.ConversationID,
		Kind:           chat.Kind(m.Kind),
		Text:           m.Text,
	})
	if err != nil {
		g.write(w, connID, protocol.TypeMessageRejected, Rejection(m.ConversationID, err))
		return
	}

	g.follow(w, connID, string(msg.Kind), msg.ConversationID)
	g.write(w, connID, protocol.TypeMessageAccepted, protocol.MessageAcceptedMsg{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Ts:             msg.CreatedAt.Unix(),
	})
}

// HandleHistory replies with the conversation's recent messages and makes
// the connection follow it.
func (g *Gateway) HandleHistory(w Writer, connID string, m protocol.HistoryMsg) {
	if chat.ValidateConversationID(m.ConversationID) != nil || !chat.Kind(m.Kind).Valid() {
		g.write(w, connID, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeInvalidMessage,
			Message: "conversation_id and a valid kind are required",
		})
		return
	}

	ctx := context.Background()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msgs, err := g.poster.History(ctx, m.ConversationID)
	if err != nil {
		g.log.Warn("history failed", zap.String("conversation", m.ConversationID), zap.Error(err))
		g.write(w, connID, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeUnavailable,
			Message: "history is unavailable, try again",
		})
		return
	}

	g.follow(w, connID, m.Kind, m.ConversationID)

	out := protocol.HistoryResultMsg{
		ConversationID: m.ConversationID,
		Messages:       make([]protocol.ServerChatMsg, 0, len(msgs)),
	}
	for _, msg := range msgs {
		out.Messages = append(out.Messages, toServerMsg(msg))
	}
	g.write(w, connID, protocol.TypeHistoryResult, out)
}

// Disconnect drops every subscription held for connID. Subscriptions that
// complete afterwards are dropped as soon as they are made.
func (g *Gateway) Disconnect(connID string) {
	now := time.Now()
	ttl := goneTTL
	if 2*g.timeout > ttl {
		ttl = 2 * g.timeout
	}

	g.mu.Lock()
	keys := g.follows[connID]
	delete(g.follows, connID)
	for id, at := range g.gone {
		if now.Sub(at) > ttl {
			delete(g.gone, id)
		}
	}
	g.gone[connID] = now
	g.mu.Unlock()

	for key := range keys {
		if err := g.subscriber.Unsubscribe(key); err != nil {
			g.log.Debug("unsubscribe", zap.String("key", key), zap.Error(err))
		}
	}
}

// follow subscribes connID to a conversation once.
func (g *Gateway) follow(w Writer, connID, kind, conversationID string) {
	if g.subscriber == nil {
		return
	}
	key := connID + ":" + conversationID

	g.mu.Lock()
	if _, closed := g.gone[connID]; closed {
		g.mu.Unlock()
		return
	}
	keys, ok := g.follows[connID]
	if !ok {
		keys = make(map[string]struct{})
		g.follows[connID] = keys
	}
	if _, dup := keys[key]; dup {
		g.mu.Unlock()
		return
	}
	keys[key] = struct{}{}
	g.mu.Unlock()

	err := g.subscriber.SubscribeChat(key, kind, conversationID, func(data []byte) {
		var msg chat.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Warn("bad chat payload", zap.String("conversation", conversationID), zap.Error(err))
			return
		}
		g.write(w, connID, protocol.TypeMessage, toServerMsg(msg))
	})
	if err != nil {
		g.log.Warn("subscribe failed",
			zap.String("conn", connID),
			zap.String("conversation", conversationID),
			zap.Error(err),
		)
		g.mu.Lock()
		delete(keys, key)
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	_, closed := g.gone[connID]
	g.mu.Unlock()
	if closed {
		if err := g.subscriber.Unsubscribe(key); err != nil {
			g.log.Debug("unsubscribe", zap.String("key", key), zap.Error(err))
		}
	}
}

func (g *Gateway) write(w Writer, connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		g.log.Error("build message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := w.WriteMessage(data); err != nil {
		g.log.Debug("write failed", zap.String("conn", connID), zap.String("type", msgType), zap.Error(err))
	}
}

// Rejection maps a send error to the message_rejected reply shown to the
// user.
func Rejection(conversationID string, err error) protocol.MessageRejectedMsg {
	r := protocol.MessageRejectedMsg{ConversationID: conversationID}

	var (
		muted   *chat.MutedError
		limited *chat.RateLimitedError
	)
	switch {
	case errors.Is(err, chat.ErrInappropriate):
		r.Code = protocol.CodeInappropriate
		r.Message = "Your message was not sent because it contains inappropriate language."
	case errors.As(err, &muted):
		r.Code = protocol.CodeMuted
		r.Message = "You are temporarily muted for repeated inappropriate messages."
		r.RetryAfter = seconds(muted.Remaining)
	case errors.Is(err, chat.ErrMuted):
		r.Code = protocol.CodeMuted
		r.Message = "You are temporarily muted for repeated inappropriate messages."
	case errors.As(err, &limited):
		r.Code = protocol.CodeRateLimited
		r.Message = "You are sending messages too quickly."
		r.RetryAfter = seconds(limited.RetryAfter)
	case errors.Is(err, chat.ErrRateLimited):
		r.Code = protocol.CodeRateLimited
		r.Message = "You are sending messages too quickly."
		r.RetryAfter = seconds(ratelimit.RuleMessage.Window)
	case errors.Is(err, chat.ErrInvalidMessage):
		r.Code = protocol.CodeInvalidMessage
		r.Message = "Messages must be between 1 and 2000 characters."
	default:
		r.Code = protocol.CodeUnavailable
		r.Message = "Your message could not be sent, try again."
	}
	return r
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func toServerMsg(m chat.Message) protocol.ServerChatMsg {
	return protocol.ServerChatMsg{
		Type:           protocol.TypeMessage,
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Kind:           string(m.Kind),
		From:           m.SenderID,
		Text:           m.Text,
		Ts:             m.CreatedAt.Unix(),
	}
}
