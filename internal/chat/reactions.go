package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReactionStore toggles and aggregates per-message reactions.
//
// Toggle takes no lock beyond the (message_id, user_id) uniqueness
// constraint. Two concurrent toggles by the same user can interleave; the
// constraint prevents a duplicate row and the type value is last-writer-wins.
type ReactionStore struct {
	pool *pgxpool.Pool
}

// NewReactionStore creates a reaction store on top of a pgx pool.
func NewReactionStore(pool *pgxpool.Pool) *ReactionStore {
	return &ReactionStore{pool: pool}
}

// Toggle flips a user's reaction on a message: no row -> insert ("added"),
// same type -> delete ("removed"), different type -> update ("changed").
// Returns the action taken and the recomputed aggregate for the message.
func (s *ReactionStore) Toggle(ctx context.Context, messageID, userID, reactionType string) (ToggleAction, MessageReactions, error) {
	var (
		existingID   string
		existingType string
		action       ToggleAction
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, type FROM reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&existingID, &existingType)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// ON CONFLICT backstops the unlocked toggle race: if another toggle
		// inserted between our select and insert, the type just gets
		// overwritten (last writer wins).
		_, err = s.pool.Exec(ctx, `
			INSERT INTO reactions (id, message_id, user_id, type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO UPDATE SET type = EXCLUDED.type`,
			uuid.New().String(), messageID, userID, reactionType)
		action = ToggleAdded
	case err != nil:
		return "", nil, fmt.Errorf("lookup reaction: %w", err)
	case existingType == reactionType:
		_, err = s.pool.Exec(ctx, `DELETE FROM reactions WHERE id = $1`, existingID)
		action = ToggleRemoved
	default:
		_, err = s.pool.Exec(ctx, `UPDATE reactions SET type = $2 WHERE id = $1`,
			existingID, reactionType)
		action = ToggleChanged
	}
	if err != nil {
		return "", nil, fmt.Errorf("toggle reaction: %w", err)
	}

	byMessage, err := s.ForMessages(ctx, []string{messageID})
	if err != nil {
		return "", nil, err
	}
	reactions := byMessage[messageID]
	if reactions == nil {
		reactions = MessageReactions{}
	}
	return action, reactions, nil
}

// ForMessages batch-loads reaction aggregates for many messages, used to
// hydrate a message page in one query. Messages without reactions have no
// entry in the result.
func (s *ReactionStore) ForMessages(ctx context.Context, messageIDs []string) (map[string]MessageReactions, error) {
	result := make(map[string]MessageReactions)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, type FROM reactions WHERE message_id = ANY($1)`,
		messageIDs)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID, reactionType string
		if err := rows.Scan(&messageID, &userID, &reactionType); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		aggregate(result, messageID, userID, reactionType)
	}
	return result, rows.Err()
}

func aggregate(result map[string]MessageReactions, messageID, userID, reactionType string) {
	byType := result[messageID]
	if byType == nil {
		byType = MessageReactions{}
		result[messageID] = byType
	}
	summary := byType[reactionType]
	if summary == nil {
		summary = &ReactionSummary{}
		byType[reactionType] = summary
	}
	summary.Count++
	summary.UserIDs = append(summary.UserIDs, userID)
}
