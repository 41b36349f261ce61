// Package feed carries committed mutations from the reservation service to
// downstream consumers (session supervisor, sync broadcaster). Delivery is
// at-least-once and unordered across entities; every event carries the full
// post-mutation records, so consumers apply them idempotently.
package feed

import (
	"context"
	"log"
	"sync"

	"github.com/campuspark/coordinator/internal/model"
)

// Feed is the change feed boundary. Publish is called once per committed
// mutation; Subscribe returns a channel of events and a cancel function
// that releases the subscription.
type Feed interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, func())
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events and must resync from a
// snapshot, which the client cache contract already requires.
const subscriberBuffer = 64

// MemoryFeed is an in-process Feed used by tests and development mode.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[int]chan model.ChangeEvent
	next int
}

// NewMemoryFeed returns an empty MemoryFeed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[int]chan model.ChangeEvent)}
}

// Publish implements Feed. Slow subscribers are skipped rather than blocking
// the publisher.
func (f *MemoryFeed) Publish(ctx context.Context, ev model.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("feed: subscriber %d is behind, dropping event %s", id, ev.ID)
		}
	}
	return nil
}

// Subscribe implements Feed.
func (f *MemoryFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan model.ChangeEvent, subscriberBuffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
