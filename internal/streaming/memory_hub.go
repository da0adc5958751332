package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultChannelBuffer = 256

type subscriber struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is an in-process EventHub backed by buffered channels.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Int64
	buffer  int
}

// NewMemoryHub creates a MemoryHub. buffer <= 0 selects the default size.
func NewMemoryHub(buffer int) *MemoryHub {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &MemoryHub{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
	}
}

// Publish fans the event out to matching subscribers without blocking.
// Events for a full subscriber are dropped and counted.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The cancel func removes it
// and closes the channel; calling it twice is safe.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan StreamEvent, h.buffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}

func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.NodeID != "" && f.NodeID != e.NodeID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

var _ EventHub = (*MemoryHub)(nil)
