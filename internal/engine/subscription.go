package engine

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/otgw-core/internal/registry"
)

// DefaultSubscriptionBuffer is the channel capacity of a Subscription.
const DefaultSubscriptionBuffer = 32

// Subscription delivers registry change events for one data id, or for all
// ids when created with OnAnyChange.
//
// Events are sent without blocking. When the buffer is full the event is
// dropped and counted in Dropped.
type Subscription struct {
	id  uint8
	all bool
	ch  chan registry.ChangeEvent
	hub *subscriptions

	dropped atomic.Uint64
	once    sync.Once
}

// C returns the event channel. It is closed by Close or when the engine stops.
func (s *Subscription) C() <-chan registry.ChangeEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery and closes the channel. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// subscriptions is the set of live subscriptions. Delivery holds the read
// lock, removal the write lock, so a channel is never sent on after close.
type subscriptions struct {
	mu     sync.RWMutex
	byID   map[uint8]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
	buffer int
	closed bool

	// onDrop is called for every dropped event.
	onDrop func()
}

func newSubscriptions(buffer int) *subscriptions {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &subscriptions{
		byID:   make(map[uint8]map[*Subscription]struct{}),
		all:    make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (h *subscriptions) add(id uint8, all bool) *Subscription {
	s := &Subscription{
		id:  id,
		all: all,
		ch:  make(chan registry.ChangeEvent, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	if all {
		h.all[s] = struct{}{}
		return s
	}
	set, ok := h.byID[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.byID[id] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *subscriptions) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *subscriptions) removeLocked(s *Subscription) {
	s.once.Do(func() {
		if s.all {
			delete(h.all, s)
		} else if set := h.byID[s.id]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byID, s.id)
			}
		}
		close(s.ch)
	})
}

// deliver sends ev to every matching subscription.
func (h *subscriptions) deliver(ev registry.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.byID[ev.ID] {
		h.send(s, ev)
	}
	for s := range h.all {
		h.send(s, ev)
	}
}

func (h *subscriptions) send(s *Subscription, ev registry.ChangeEvent) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
		if h.onDrop != nil {
			h.onDrop()
		}
	}
}

// closeAll closes every subscription. Later subscriptions start closed.
func (h *subscriptions) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.byID {
		for s := range set {
			h.removeLocked(s)
		}
	}
	for s := range h.all {
		h.removeLocked(s)
	}
	h.closed = true
}

func (h *subscriptions) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.all)
	for _, set := range h.byID {
		n += len(set)
	}
	return n
}
