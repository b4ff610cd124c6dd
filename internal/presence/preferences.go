package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const prefKeyPrefix = "notification_pref:"

// Notification preference states. Unset users report PrefDefault so clients
// know to ask.
const (
	PrefDefault  = "default"
	PrefGranted  = "granted"
	PrefAskLater = "ask_later"
	PrefNever    = "never"
)

// ErrInvalidPreference is returned for preference values outside the known
// set.
var ErrInvalidPreference = errors.New("invalid notification preference")

// ValidPreference reports whether p is a settable preference value.
func ValidPreference(p string) bool {
	return p == PrefGranted || p == PrefAskLater || p == PrefNever
}

// Preferences stores per-user notification choices.
type Preferences struct {
	client *redis.Client
}

func NewPreferences(client *redis.Client) *Preferences {
	return &Preferences{client: client}
}

// Get returns the stored preference, or PrefDefault when none is set.
func (p *Preferences) Get(ctx context.Context, userID string) (string, error) {
	val, err := p.client.Get(ctx, prefKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return PrefDefault, nil
	}
	if err != nil {
		return "", fmt.Errorf("fetching notification preference: %w", err)
	}
	return val, nil
}

// Set stores a preference. Preferences never expire.
func (p *Preferences) Set(ctx context.Context, userID, pref string) error {
	if !ValidPreference(pref) {
		return ErrInvalidPreference
	}
	if err := p.client.Set(ctx, prefKeyPrefix+userID, pref, 0).Err(); err != nil {
		return fmt.Errorf("storing notification preference: %w", err)
	}
	return nil
}
