// Package audit records blocked messages in Postgres so moderators can
// review what was rejected and why.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"
)

// ExcerptRunes caps how much of a blocked text is stored.
const ExcerptRunes = 200

// Event is one blocked message.
type Event struct {
	UserID         string
	ConversationID string
	Kind           string
	Stage          string
	Term           string
	Text           string // trimmed to ExcerptRunes before insert
	CreatedAt      time.Time
}

// Store manages moderation events in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts ev.
func (s *Store) Record(ctx context.Context, ev Event) error {
	const query = `
		INSERT INTO moderation_events (user_id, conversation_id, kind, stage, term, excerpt)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		ev.UserID,
		ev.ConversationID,
		ev.Kind,
		ev.Stage,
		ev.Term,
		Excerpt(ev.Text),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns how many events userID produced within window.
func (s *Store) CountRecent(ctx context.Context, userID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_events
		WHERE user_id = $1
		  AND created_at >= NOW() - $2 * INTERVAL '1 second'`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, window.Seconds()).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// ListRecent returns userID's latest events, newest first.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]Event, error) {
	const query = `
		SELECT user_id, conversation_id, kind, stage, term, excerpt, created_at
		FROM moderation_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.UserID, &ev.ConversationID, &ev.Kind, &ev.Stage, &ev.Term, &ev.Text, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return events, nil
}

// Excerpt trims text to ExcerptRunes runes.
func Excerpt(text string) string {
	if utf8.RuneCountInString(text) <= ExcerptRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:ExcerptRunes])
}
