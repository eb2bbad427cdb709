package sync

import (
	gosync "sync"
	"time"
)

// Event announces the completion of a sync run. Exactly one event is
// published per run, after every job has reached a terminal state.
type Event struct {
	RunID       string    `json:"run_id"`
	UserID      string    `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Broadcaster fans completion events out to subscribers. Publishing never
// blocks: a subscriber that is not draining its channel misses events
// rather than stalling the run.
type Broadcaster struct {
	mu   gosync.Mutex
	next int
	subs map[int]chan Event
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener. The returned cancel function must be
// called to release the subscription; the channel is closed by it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Event, 8)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}

	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
