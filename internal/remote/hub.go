package remote

import (
	"context"
	"fmt"
	"sync"
)

// Hub fans change events out to subscribers. Backends publish every change
// they observe; the hub matches table and user filter and delivers to each
// subscriber on its own goroutine so a slow subscriber never blocks a writer.
//
// Pending events are coalesced: while a subscriber is busy, at most one more
// event is queued for it. Subscribers reload the whole table on any event, so
// a burst of changes needs only one follow-up reload.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*hubSubscription
	nextID uint64
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*hubSubscription)}
}

type hubSubscription struct {
	hub    *Hub
	id     uint64
	table  string
	filter Filter
	fn     func(ChangeEvent)
	events chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers fn for events on table matching filter. The
// subscription ends when Close is called, ctx is cancelled or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, table string, filter Filter, fn func(ChangeEvent)) (Subscription, error) {
	if !KnownTable(table) {
		return nil, fmt.Errorf("Subscribe: %w: %s", ErrUnknownTable, table)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("Subscribe: %w", ErrClosed)
	}
	h.nextID++
	sub := &hubSubscription{
		hub:    h,
		id:     h.nextID,
		table:  table,
		filter: filter,
		fn:     fn,
		events: make(chan ChangeEvent, 1),
		done:   make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// one delivery already pending
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}

func (s *hubSubscription) matches(ev ChangeEvent) bool {
	if s.table != ev.Table {
		return false
	}
	switch s.filter.Column {
	case "":
		return true
	case "user_id":
		return fmt.Sprint(s.filter.Value) == ev.UserID
	default:
		// Events only carry the owner, so other columns cannot be checked.
		return true
	}
}

func (s *hubSubscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case ev := <-s.events:
			s.fn(ev)
		}
	}
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}
