package alarm

import (
	"sync"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// watchBuffer is the number of states a slow watcher may lag behind.
const watchBuffer = 8

// Broadcaster fans alarm states out to watchers. It is safe for concurrent use.
type Broadcaster struct {
	// mu protects the fields below.
	mu sync.Mutex
	// latest is the last published state.
	latest *domain.State
	// watchers are the live subscriptions.
	watchers map[uint64]chan *domain.State
	// next is the next subscription key.
	next uint64
}

// NewBroadcaster creates a broadcaster holding initial as the current state.
func NewBroadcaster(initial *domain.State) *Broadcaster {
	if initial == nil {
		initial = new(domain.State)
	}

	return &Broadcaster{
		latest:   initial.Clone(),
		watchers: make(map[uint64]chan *domain.State),
	}
}

// Publish stores state and hands it to every watcher.
// A watcher that fell behind loses its oldest pending state.
func (b *Broadcaster) Publish(state *domain.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = state.Clone()

	for _, ch := range b.watchers {
		deliver(ch, b.latest)
	}
}

// Latest returns a copy of the last published state.
func (b *Broadcaster) Latest() *domain.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.latest.Clone()
}

// Subscribe returns a channel that first yields the current state, and a cancel func.
func (b *Broadcaster) Subscribe() (<-chan *domain.State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.next
	b.next++

	ch := make(chan *domain.State, watchBuffer)
	ch <- b.latest
	b.watchers[key] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.watchers, key)
		})
	}
}

// Watchers returns the number of live subscriptions.
func (b *Broadcaster) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.watchers)
}

// deliver sends without blocking, dropping the oldest pending state when full.
// Callers hold mu, so nobody else sends on ch.
func deliver(ch chan *domain.State, state *domain.State) {
	select {
	case ch <- state:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	ch <- state
}
