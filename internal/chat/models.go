// Package chat holds the domain model and the PostgreSQL-backed stores for
// threads, messages, reactions and users.
package chat

import "time"

// Thread is a conversation container. MessageCount is maintained atomically
// alongside message inserts, so it always equals the number of persisted
// messages in the thread.
type Thread struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	LastMessageText *string   `json:"lastMessageText"`
	MessageCount    int       `json:"messageCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Message belongs to a thread. MessageNumber is a 1-based sequence unique
// within the thread, assigned under the thread row lock at insert time.
type Message struct {
	ID            string    `json:"id"`
	ThreadID      string    `json:"threadId"`
	Text          string    `json:"text"`
	Author        string    `json:"author"`
	MessageNumber int       `json:"messageNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// User is an account. PasswordHash never leaves the backend.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ReactionSummary aggregates one reaction type on a message.
type ReactionSummary struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

// MessageReactions maps reaction type -> aggregate for a single message.
type MessageReactions map[string]*ReactionSummary

// ToggleAction describes what a reaction toggle did.
type ToggleAction string

const (
	ToggleAdded   ToggleAction = "added"
	ToggleRemoved ToggleAction = "removed"
	ToggleChanged ToggleAction = "changed"
)

// ReactionTypes is the fixed set of accepted reaction kinds.
var ReactionTypes = []string{"heart", "thumbs_up", "thumbs_down"}

// ValidReactionType reports whether t is one of ReactionTypes.
func ValidReactionType(t string) bool {
	for _, v := range ReactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// MessagePage is one page of paginated message history, oldest first.
// NextCursor is empty when no older history remains.
type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"nextCursor,omitempty"`
}
