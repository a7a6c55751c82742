package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans events out to in-process subscribers such as server-sent
// event streams. Slow subscribers lose events instead of stalling the hub.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
}

type subscriber struct {
	collectionID string
	ch           chan progress.Event
	once         sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold buffer
// events each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// Subscribe registers interest in one collection, or every collection when
// collectionID is empty. The returned cancel func is idempotent and closes the
// channel.
func (b *Broadcaster) Subscribe(collectionID string) (<-chan progress.Event, func()) {
	sub := &subscriber{collectionID: collectionID, ch: make(chan progress.Event, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Consume delivers each event to matching subscribers without blocking.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, evt := range batch {
		for _, sub := range b.subs {
			if sub.collectionID != "" && sub.collectionID != evt.CollectionID {
				continue
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	return nil
}
