// Package presence tracks which users are currently online and their
// notification preferences, both kept in Redis so every instance sees the
// same picture. Presence keys carry a short TTL; a client that stops
// heartbeating simply ages out.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKeyPrefix = "online:"
	onlineTTL       = 10 * time.Second
	scanBatch       = 100
)

// OnlineUser is one currently-online user.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Tracker records and reports user presence.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Heartbeat marks a user online for the TTL window. Clients call this
// periodically; the interval must be comfortably under the TTL.
func (t *Tracker) Heartbeat(ctx context.Context, userID, username string) error {
	key := onlineKeyPrefix + userID
	if err := t.client.Set(ctx, key, username, onlineTTL).Err(); err != nil {
		return fmt.Errorf("setting presence key: %w", err)
	}
	return nil
}

// Online lists every user with a live presence key.
func (t *Tracker) Online(ctx context.Context) ([]OnlineUser, error) {
	keys, err := t.scanKeys(ctx, onlineKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []OnlineUser{}, nil
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching presence values: %w", err)
	}

	users := make([]OnlineUser, 0, len(keys))
	for i, key := range keys {
		username, ok := values[i].(string)
		if !ok {
			// Key expired between SCAN and MGET.
			continue
		}
		users = append(users, OnlineUser{
			UserID:   key[len(onlineKeyPrefix):],
			Username: username,
		})
	}
	return users, nil
}

// OnlineCount returns the number of users currently online.
func (t *Tracker) OnlineCount(ctx context.Context) (int, error) {
	keys, err := t.scanKeys(ctx, onlineKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (t *Tracker) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := t.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning presence keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
