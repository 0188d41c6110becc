package workflow

import "sync"

// Watch is a latest-value channel: each subscriber holds a one-slot
// buffer that Set overwrites, so a reader that misses intermediate
// updates still converges to the current view without ever blocking the
// writer.
type Watch struct {
	mu   sync.Mutex
	subs []chan View
}

// NewWatch returns an empty latest-value channel.
func NewWatch() *Watch {
	return &Watch{}
}

// Subscribe registers a new reader. The channel carries at most the most
// recent view.
func (w *Watch) Subscribe() <-chan View {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan View, 1)
	w.subs = append(w.subs, ch)
	return ch
}

// Set publishes v, replacing any unconsumed previous value per
// subscriber.
func (w *Watch) Set(v View) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ch := range w.subs {
		select {
		case ch <- v:
		default:
			// Slot full: drop the stale value, then install the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// broadcastBuffer bounds each event subscriber's backlog. A subscriber
// that falls further behind loses events, never blocks the writer.
const broadcastBuffer = 64

// Broadcaster fans events out to all live subscribers with per-subscriber
// in-order delivery and drop-on-overflow backpressure.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster returns an empty event fan-out.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new event reader and returns the channel plus a
// cancel function that unregisters it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, broadcastBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber with buffer capacity left.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
