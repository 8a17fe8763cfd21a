package ws

import (
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. msg is the concrete struct returned by
// protocol.ParseClientMessage (e.g. protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. Ping is answered internally; malformed or
// unsupported messages get an error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log.With(zap.String("component", "dispatcher")),
	}
}

// Register associates a MessageHandler with a message type, replacing any
// previous handler.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn", conn.ID), zap.Error(err))
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("type", msgType), zap.String("conn", conn.ID))
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error("build error message", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("send error message", zap.String("conn", conn.ID), zap.Error(err))
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error("build pong", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("send pong", zap.String("conn", conn.ID), zap.Error(err))
	}
}
