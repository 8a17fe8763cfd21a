package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// PGStore persists accepted messages in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a PGStore on db. The schema comes from the storage
// package migrations.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Insert writes msg.
func (s *PGStore) Insert(ctx context.Context, msg *Message) error {
	const query = `
		INSERT INTO messages (id, conversation_id, kind, sender_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		string(msg.Kind),
		msg.SenderID,
		msg.Text,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

// ListRecent returns up to limit messages of a conversation, oldest first.
func (s *PGStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	const query = `
		SELECT id, conversation_id, kind, sender_id, text, created_at
		FROM (
			SELECT id, conversation_id, kind, sender_id, text, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &kind, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		m.Kind = Kind(kind)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: rows: %w", err)
	}
	return msgs, nil
}
