// Package realtime is the fan-out core: the event bus that moves domain
// events between instances over the broker, the registry of live push
// connections, and the broadcast service the write path calls after commit.
package realtime

import (
	"encoding/json"
	"strings"
)

// EventKind identifies a push event type on the wire.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventMessage       EventKind = "message"
	EventReaction      EventKind = "reaction"
	EventThreadCreated EventKind = "thread_created"
	EventThreadUpdated EventKind = "thread_updated"
	EventThreadDeleted EventKind = "thread_deleted"
)

// TopicGlobal is the fleet-wide topic carrying thread-list events. Every
// instance stays subscribed to it for its whole lifetime.
const TopicGlobal = "threads:global"

// threadTopicPrefix namespaces per-thread topics on the broker.
const threadTopicPrefix = "thread:"

// ThreadTopic returns the fan-out topic for a single thread.
func ThreadTopic(threadID string) string {
	return threadTopicPrefix + threadID
}

// ThreadIDFromTopic extracts the thread id from a per-thread topic.
// Returns "" for the global topic or anything else.
func ThreadIDFromTopic(topic string) string {
	if strings.HasPrefix(topic, threadTopicPrefix) {
		return strings.TrimPrefix(topic, threadTopicPrefix)
	}
	return ""
}

// Envelope is the typed event that travels over the broker and, ultimately,
// down each push connection as an SSE frame.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope, marshalling data as the payload.
// Marshal failures are a programming error on our own types; they surface as
// an empty JSON object rather than a dropped event.
func NewEnvelope(kind EventKind, data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	return Envelope{Event: kind, Data: raw}
}

// Frame renders the envelope as a server-sent event frame.
func (e Envelope) Frame() []byte {
	var b strings.Builder
	b.Grow(len(e.Event) + len(e.Data) + 16)
	b.WriteString("event: ")
	b.WriteString(string(e.Event))
	b.WriteString("\ndata: ")
	b.Write(e.Data)
	b.WriteString("\n\n")
	return []byte(b.String())
}

// heartbeatFrame is the comment-only keepalive frame. Comment frames are
// ignored by EventSource clients but keep idle-timeout intermediaries from
// dropping the connection.
var heartbeatFrame = []byte(":heartbeat\n\n")

// connectedFrame is the synchronous acknowledgement sent when a connection
// attaches to a topic.
func connectedFrame(topic string) []byte {
	data := any(struct{}{})
	if id := ThreadIDFromTopic(topic); id != "" {
		data = map[string]string{"threadId": id}
	}
	return NewEnvelope(EventConnected, data).Frame()
}
