package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/hrygo/relaywatch/internal/store"
)

// Hub fans a single ingested EventRecord out to every connected stream
// subscriber (§4.7 step 8, §4.9). Grounded on
// EternisAI-enchanted-proxy's ChatStreamHub: a RWMutex-guarded
// subscriber map, one buffered channel per subscriber, and a
// non-blocking send-or-drop broadcast so one slow consumer never
// stalls another (§5's "slow or dead consumer must not block other
// consumers" rule).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// Subscriber is one live stream connection. filter is an atomic.Value
// holding a store.MonitorFilter so UpdateFilter can swap it without the
// broadcaster ever observing a torn read, satisfying §8's "any connected
// stream applies the new predicate to the next event" round-trip rule.
type Subscriber struct {
	ID     string
	UserID string
	Ch     chan EventRecord

	filter atomic.Value
}

func newSubscriber(id, userID string, filter store.MonitorFilter, bufferSize int) *Subscriber {
	s := &Subscriber{ID: id, UserID: userID, Ch: make(chan EventRecord, bufferSize)}
	s.filter.Store(filter)
	return s
}

// Filter returns the subscriber's current predicate.
func (s *Subscriber) Filter() store.MonitorFilter {
	return s.filter.Load().(store.MonitorFilter)
}

// UpdateFilter swaps the subscriber's predicate in place, taking effect
// on the next broadcast.
func (s *Subscriber) UpdateFilter(f store.MonitorFilter) {
	s.filter.Store(f)
}

// NewHub constructs an empty subscriber hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a new stream subscriber and returns it; the
// caller (the API Gateway's WS handler) owns draining Ch and calling
// Unsubscribe on disconnect.
func (h *Hub) Subscribe(id, userID string, filter store.MonitorFilter) *Subscriber {
	const bufferSize = 64
	sub := newSubscriber(id, userID, filter, bufferSize)
	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber. It does not close Ch: the send side
// never writes after removal, so the channel is simply left for the GC.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
}

// Count returns the number of live subscribers, for GET /api/status.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast evaluates each subscriber's predicate against event and
// delivers it on a non-blocking best-effort basis. Always called for
// every ingested event (§4.7 step 8); filtering happens here, not at
// the ingestion pipeline.
func (h *Hub) Broadcast(event EventRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if !MatchesFilter(event, sub.Filter()) {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
		}
	}
}
