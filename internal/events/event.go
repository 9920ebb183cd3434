// ABOUTME: Lifecycle event emitted by agents when their pairing changes
// ABOUTME: Events are keyed by the identity of the agent that emitted them

package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/2389/wardlink/internal/session"
)

// Kind names what happened.
type Kind string

const (
	KindAttached     Kind = "attached"
	KindDetached     Kind = "detached"
	KindRequested    Kind = "requested"
	KindUnsubscribed Kind = "unsubscribed"
)

// Event is one pairing lifecycle change.
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Agent      string          `json:"agent"`
	Peer       session.Contact `json:"peer"`
	ResourceID string          `json:"resource_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// New builds an event with a fresh id and the current time.
func New(kind Kind, agent string, peer session.Contact, resourceID string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Agent:      agent,
		Peer:       peer,
		ResourceID: resourceID,
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher accepts events. Agents hold one of these; nil means "discard".
type Publisher interface {
	Publish(ev *Event)
}
