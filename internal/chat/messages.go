package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPageSize is the message page size used when the caller does not
// specify a limit.
const DefaultPageSize = 50

// MessageStore serves message history. Reads are cursor-paginated in reverse
// chronological order; thread existence is the caller's concern.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a message store on top of a pgx pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Get returns a single message or ErrMessageNotFound.
func (s *MessageStore) Get(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, thread_id, text, author, message_number, created_at
		FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.ThreadID, &m.Text, &m.Author, &m.MessageNumber, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// ListByThread returns up to limit messages for a thread, oldest first.
// Without a cursor it returns the most recent page; with one it returns
// messages strictly older than the cursor's timestamp. It fetches one extra
// row to decide whether older history remains, and when it does, NextCursor
// encodes the createdAt of the oldest returned item so pages concatenate
// without gaps or duplicates.
func (s *MessageStore) ListByThread(ctx context.Context, threadID, cursor string, limit int) (*MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := `
		SELECT id, thread_id, text, author, message_number, created_at
		FROM messages
		WHERE thread_id = $1`
	args := []any{threadID}

	if cursor != "" {
		before, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND created_at < $2`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit+1)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Text, &m.Author, &m.MessageNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	// Reverse to chronological order so concatenated pages read oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	page := &MessagePage{Items: items}
	if hasMore {
		page.NextCursor = EncodeCursor(items[0].CreatedAt)
	}
	return page, nil
}
