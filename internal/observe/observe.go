// Package observe broadcasts versioned state snapshots to subscribers.
//
// Publishers may call Publish from several goroutines at once. Each subscriber
// sees versions in strictly increasing order: a snapshot older than the last one
// delivered to that subscriber is dropped. Callbacks run on the publishing
// goroutine, outside any publisher lock, so they may call back into the
// publisher.
package observe

import (
	"sync"
	"sync/atomic"
)

// Versioned is a snapshot carrying a monotonically increasing version.
type Versioned interface {
	StateVersion() uint64
}

type subscriber[T Versioned] struct {
	fn   func(T)
	last atomic.Uint64
}

// Broadcaster fans snapshots out to subscribers.
type Broadcaster[T Versioned] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber[T]
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]*subscriber[T])
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber[T]{fn: fn}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers snap to every subscriber that has not already seen a newer
// version.
func (b *Broadcaster[T]) Publish(snap T) {
	b.mu.RLock()
	subs := make([]*subscriber[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	v := snap.StateVersion()
	for _, s := range subs {
		for {
			last := s.last.Load()
			if v <= last {
				break
			}
			if s.last.CompareAndSwap(last, v) {
				s.fn(snap)
				break
			}
		}
	}
}
