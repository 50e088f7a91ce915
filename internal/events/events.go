// Package events fans out committed board changes to live subscribers.
// Delivery is at-most-once: a slow subscriber loses events rather than
// blocking the publisher.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Type names a board change.
type Type string

const (
	CardCreated   Type = "card.created"
	CardUpdated   Type = "card.updated"
	CardMoved     Type = "card.moved"
	CardDeleted   Type = "card.deleted"
	CommentAdded  Type = "comment.added"
	ColumnCreated Type = "column.created"
	ColumnUpdated Type = "column.updated"
	ColumnMoved   Type = "column.moved"
	ColumnDeleted Type = "column.deleted"
)

// Event is a committed change on a board.
type Event struct {
	Type    Type            `json:"type"`
	BoardID uuid.UUID       `json:"boardId"`
	ActorID uuid.UUID       `json:"actorId"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// New builds an event with data marshalled to JSON. Unmarshalable data is dropped.
func New(t Type, boardID, actorID uuid.UUID, data any) Event {
	e := Event{Type: t, BoardID: boardID, ActorID: actorID, At: time.Now().UTC()}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

// Publisher delivers events to subscribers of the event's board.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber opens a stream of events for one board.
type Subscriber interface {
	Subscribe(ctx context.Context, boardID uuid.UUID) (*Subscription, error)
}

// Broker both publishes and subscribes.
type Broker interface {
	Publisher
	Subscriber
}

// subscriptionBuffer is the per-subscriber queue length.
const subscriptionBuffer = 32

// Subscription is an active board stream. Close must be called when done.
type Subscription struct {
	events <-chan Event
	cancel func()
	once   sync.Once
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
