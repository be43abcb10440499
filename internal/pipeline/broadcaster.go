package pipeline

import "sync"

// Broadcaster fans snapshots out to listeners (SSE clients, UDP).
// It keeps the most recent value so new subscribers get an immediate sample.
// Slow subscribers miss updates; Publish never blocks.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Snapshot
	nextID   int
	last     Snapshot
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Snapshot)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Snapshot) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Snapshot, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports how many listeners are attached.
func (b *Broadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(s Snapshot) {
	if b == nil {
		return
	}
	// Hold the read lock while sending so Unsubscribe cannot close a channel
	// underneath us. Sends are non-blocking.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = s
	b.haveLast = true
	b.mu.Unlock()
}
