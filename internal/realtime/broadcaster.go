package realtime

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/chat"
)

// Broadcaster publishes domain events onto the bus after their mutations
// have committed. Broker failures are logged and swallowed: the write
// already succeeded, so the request must not fail because fan-out did.
type Broadcaster struct {
	bus *Bus
}

func NewBroadcaster(bus *Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// MessageCreated announces a new message to viewers of its thread.
func (b *Broadcaster) MessageCreated(ctx context.Context, threadID string, msg *chat.Message) {
	b.publish(ctx, ThreadTopic(threadID), NewEnvelope(EventMessage, msg))
}

// ReactionUpdated announces the full recomputed reaction state of a message
// to viewers of its thread. Receivers replace, never merge, so redelivery
// and reordering are harmless.
func (b *Broadcaster) ReactionUpdated(ctx context.Context, threadID, messageID string, reactions chat.MessageReactions) {
	payload := struct {
		MessageID string                `json:"messageId"`
		Reactions chat.MessageReactions `json:"reactions"`
	}{MessageID: messageID, Reactions: reactions}
	b.publish(ctx, ThreadTopic(threadID), NewEnvelope(EventReaction, payload))
}

// ThreadCreated announces a new thread on the global topic.
func (b *Broadcaster) ThreadCreated(ctx context.Context, thread *chat.Thread) {
	b.publish(ctx, TopicGlobal, NewEnvelope(EventThreadCreated, thread))
}

// ThreadUpdated announces changed thread metadata on the global topic.
// byAuthor carries the actor for message-driven updates so thread lists can
// suppress notification noise for the sender's own activity.
func (b *Broadcaster) ThreadUpdated(ctx context.Context, thread *chat.Thread, byAuthor string) {
	payload := struct {
		*chat.Thread
		ByAuthor string `json:"byAuthor,omitempty"`
	}{Thread: thread, ByAuthor: byAuthor}
	b.publish(ctx, TopicGlobal, NewEnvelope(EventThreadUpdated, payload))
}

// ThreadDeleted announces a removed thread on the global topic.
func (b *Broadcaster) ThreadDeleted(ctx context.Context, threadID string) {
	payload := struct {
		ID string `json:"id"`
	}{ID: threadID}
	b.publish(ctx, TopicGlobal, NewEnvelope(EventThreadDeleted, payload))
}

func (b *Broadcaster) publish(ctx context.Context, topic string, env Envelope) {
	if err := b.bus.Publish(ctx, topic, env); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("event", string(env.Event)).
			Msg("Event publish failed, live clients will catch up on reload")
	}
}
