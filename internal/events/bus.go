package events

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Bus is an in-process Broker for single-instance deployments.
type Bus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Publish delivers e to current subscribers of e.BoardID without blocking.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.BoardID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers a stream for boardID. Cancelling ctx closes it.
func (b *Bus) Subscribe(ctx context.Context, boardID uuid.UUID) (*Subscription, error) {
	ch := make(chan Event, subscriptionBuffer)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan Event]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-subCtx.Done()
		b.mu.Lock()
		delete(b.subs[boardID], ch)
		if len(b.subs[boardID]) == 0 {
			delete(b.subs, boardID)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return &Subscription{events: ch, cancel: cancel}, nil
}

// subscribers reports the number of streams open for boardID.
func (b *Bus) subscribers(boardID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}
