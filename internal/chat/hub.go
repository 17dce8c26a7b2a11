package chat

import (
	"sort"
	"sync"

	"github.com/susu3304/amanteslive/internal/metrics"
)

const (
	defaultSubscriberBuffer = 64
	defaultReorderWindow    = 32
)

// Subscription receives a live's events in sequence order. Events is closed
// when the subscriber is cut off or the live ends; after a cutoff the
// consumer must resync with Since.
type Subscription struct {
	liveID string
	hub    *Hub
	ch     chan Event
	lagged bool
	closed bool
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) LiveID() string { return s.liveID }

// Lagged reports whether the subscription was cut off for falling behind.
func (s *Subscription) Lagged() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.lagged
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.dropLocked(s)
}

type topic struct {
	known   bool
	lastSeq int64
	pending map[int64]Event
	subs    map[*Subscription]struct{}
}

// Hub fans chat events out to local subscribers. Events may arrive out of
// order or twice (local publish and the cross-instance relay); the hub
// delivers each seq once and in order, holding early arrivals until the gap
// fills or the reorder window overflows.
type Hub struct {
	mu            sync.Mutex
	topics        map[string]*topic
	bufferSize    int
	reorderWindow int
}

func NewHub() *Hub {
	return &Hub{
		topics:        make(map[string]*topic),
		bufferSize:    defaultSubscriberBuffer,
		reorderWindow: defaultReorderWindow,
	}
}

// Subscribe registers for events published after this call. No history is replayed.
func (h *Hub) Subscribe(liveID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[liveID]
	if t == nil {
		t = &topic{
			pending: make(map[int64]Event),
			subs:    make(map[*Subscription]struct{}),
		}
		h.topics[liveID] = t
	}
	sub := &Subscription{liveID: liveID, hub: h, ch: make(chan Event, h.bufferSize)}
	t.subs[sub] = struct{}{}
	return sub
}

// Seed sets the delivery baseline of a live. Until a live is seeded its
// events are held, so a subscriber can read its backlog first.
func (h *Hub) Seed(liveID string, seq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[liveID]
	if t == nil || t.known {
		return
	}
	t.known = true
	t.lastSeq = seq
	for s := range t.pending {
		if s <= seq {
			delete(t.pending, s)
		}
	}
	h.drainLocked(t)
}

// LastSeq returns the highest seq delivered for liveID, and whether the live is tracked.
func (h *Hub) LastSeq(liveID string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[liveID]
	if t == nil {
		return 0, false
	}
	return t.lastSeq, t.known
}

// Tracked returns the seeded lives with subscribers and their last delivered seq.
func (h *Hub) Tracked() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.topics))
	for id, t := range h.topics {
		if t.known {
			out[id] = t.lastSeq
		}
	}
	return out
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[e.LiveID]
	if t == nil {
		return
	}
	if t.known && e.Seq <= t.lastSeq {
		return
	}
	t.pending[e.Seq] = e
	if t.known {
		h.drainLocked(t)
	}

	if len(t.pending) > h.reorderWindow {
		h.flushLocked(t)
	}
}

// CloseLive ends every subscription of a live.
func (h *Hub) CloseLive(liveID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[liveID]
	if t == nil {
		return
	}
	for s := range t.subs {
		h.dropLocked(s)
	}
}

func (h *Hub) drainLocked(t *topic) {
	for {
		e, ok := t.pending[t.lastSeq+1]
		if !ok {
			return
		}
		delete(t.pending, e.Seq)
		t.lastSeq = e.Seq
		h.deliverLocked(t, e)
	}
}

// flushLocked gives up on a gap. Held events are dropped and every
// subscriber is cut off so each one refetches the tail from storage.
func (h *Hub) flushLocked(t *topic) {
	t.known = true
	seqs := make([]int64, 0, len(t.pending))
	for s := range t.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	t.lastSeq = seqs[len(seqs)-1]
	t.pending = make(map[int64]Event)
	for s := range t.subs {
		s.lagged = true
		metrics.RecordLaggedCutoff()
		h.dropLocked(s)
	}
}

func (h *Hub) deliverLocked(t *topic, e Event) {
	metrics.RecordPublished()
	for s := range t.subs {
		select {
		case s.ch <- e:
		default:
			s.lagged = true
			metrics.RecordLaggedCutoff()
			h.dropLocked(s)
		}
	}
}

func (h *Hub) dropLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	t := h.topics[s.liveID]
	if t == nil {
		return
	}
	delete(t.subs, s)
	if len(t.subs) == 0 {
		delete(h.topics, s.liveID)
	}
}
