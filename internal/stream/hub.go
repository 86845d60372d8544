package stream

import (
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 16

type Audience string

const (
	AudienceAll     Audience = "all"
	AudiencePlayers Audience = "players"
	AudienceAdmins  Audience = "admins"
)

// Event is one typed push to stream subscribers.
type Event struct {
	Type     string
	Audience Audience
	Data     any
}

type HubConfig struct {
	// SubscriberBuffer is the per-connection queue depth. A subscriber
	// that falls further behind than this loses events.
	SubscriberBuffer int
}

// Hub fans events out to every connection subscribed to a trivia. Sends
// never block: delivery to a full subscriber queue is dropped so slow
// consumers cannot throttle scoring or state transitions.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
}

type Subscriber struct {
	id       string
	triviaID string
	role     Role
	ch       chan Event
}

// ID identifies the connection in logs and the initial handshake event.
func (s *Subscriber) ID() string { return s.id }

// C is the subscriber's event queue; it is closed on Unsubscribe.
func (s *Subscriber) C() <-chan Event { return s.ch }

func NewHub(c HubConfig) *Hub {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}

	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: c.SubscriberBuffer,
	}
}

func (h *Hub) Subscribe(triviaID string, role Role) *Subscriber {
	sub := &Subscriber{
		id:       uuid.NewString(),
		triviaID: triviaID,
		role:     role,
		ch:       make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[triviaID] == nil {
		h.subs[triviaID] = make(map[*Subscriber]struct{})
	}
	h.subs[triviaID][sub] = struct{}{}

	metricStreamClients.Inc()

	return sub
}

// Unsubscribe removes the connection from the fan-out set and closes its
// queue. Other subscribers and in-flight publishes are unaffected.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.triviaID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}

	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.triviaID)
	}
	close(sub.ch)

	metricStreamClients.Dec()
}

// Publish delivers the event to every registered connection for the
// trivia whose role matches the event's audience.
func (h *Hub) Publish(triviaID string, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[triviaID] {
		if !audienceMatch(e.Audience, sub.role) {
			continue
		}

		select {
		case sub.ch <- e:
			metricStreamEvents.WithLabelValues(e.Type).Inc()
		default:
			metricStreamDropped.WithLabelValues(e.Type).Inc()
		}
	}
}

func audienceMatch(a Audience, r Role) bool {
	switch a {
	case AudiencePlayers:
		return r == RolePlayer
	case AudienceAdmins:
		return r == RoleAdmin
	default:
		return true
	}
}
