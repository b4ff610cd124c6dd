package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const threadColumns = `id, title, last_message_at, last_message_text, message_count, created_at, updated_at`

// ThreadStore reads and mutates thread rows. CreateMessage is the single
// write path for posting into a thread; it serializes concurrent writers on
// the thread's row lock.
type ThreadStore struct {
	pool *pgxpool.Pool
}

// NewThreadStore creates a thread store on top of a pgx pool.
func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.Title, &t.LastMessageAt, &t.LastMessageText,
		&t.MessageCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns all threads ordered by recency, optionally filtered by a
// case-insensitive title search.
func (s *ThreadStore) List(ctx context.Context, search string) ([]Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads`
	args := []any{}
	if search = strings.TrimSpace(search); search != "" {
		query += ` WHERE title ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY last_message_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// Get returns a single thread or ErrThreadNotFound.
func (s *ThreadStore) Get(ctx context.Context, id string) (*Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// Create inserts a new empty thread.
func (s *ThreadStore) Create(ctx context.Context, title string) (*Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`INSERT INTO threads (id, title) VALUES ($1, $2) RETURNING `+threadColumns,
		uuid.New().String(), strings.TrimSpace(title)))
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return t, nil
}

// Rename updates a thread's title and returns the new snapshot.
func (s *ThreadStore) Rename(ctx context.Context, id, title string) (*Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx,
		`UPDATE threads SET title = $2, updated_at = now() WHERE id = $1 RETURNING `+threadColumns,
		id, strings.TrimSpace(title)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rename thread: %w", err)
	}
	return t, nil
}

// Delete removes a thread; messages and their reactions cascade.
func (s *ThreadStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// CreateMessage posts a message into a thread inside one transaction.
//
// The counter bump runs first as an UPDATE ... RETURNING, which takes the
// row-level exclusive lock on the thread: concurrent posts to the same thread
// queue on that lock and execute one at a time in commit order. The insert
// then reuses the returned message_count as the message number, so numbering
// is gap-free and duplicate-free without a separate sequence. Doing the bump
// before the insert is what prevents two concurrent posts from computing the
// same number.
//
// Text must already be validated by the caller; it is stored trimmed.
func (s *ThreadStore) CreateMessage(ctx context.Context, threadID, text, author string) (*Message, *Thread, error) {
	text = strings.TrimSpace(text)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Warn().Err(err).Msg("Rollback after message insert failed")
		}
	}()

	thread, err := scanThread(tx.QueryRow(ctx, `
		UPDATE threads
		SET message_count = message_count + 1,
		    last_message_at = now(),
		    last_message_text = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+threadColumns, threadID, text))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("bump thread counter: %w", err)
	}

	msg := Message{
		ID:            uuid.New().String(),
		ThreadID:      threadID,
		Text:          text,
		Author:        author,
		MessageNumber: thread.MessageCount,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, thread_id, text, author, message_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		msg.ID, msg.ThreadID, msg.Text, msg.Author, msg.MessageNumber,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return &msg, thread, nil
}
