// Package broker implements the websocket stream broker: topic based
// publish/subscribe fanout, per connection liveness tracking, the physics
// simulation registry, and protocol aware routing of control and tool
// messages.
package broker

import (
	"sync"

	"github.com/ariesworks/comms/internal/observability"
)

// Topic names recognized by the hub.
const (
	TopicBroadcast = "broadcast"
	TopicPhysics   = "physics"
	TopicTools     = "tools"
	TopicTrading   = "trading"
)

func knownTopic(topic string) bool {
	switch topic {
	case TopicBroadcast, TopicPhysics, TopicTools, TopicTrading:
		return true
	}
	return false
}

// hub tracks connections and their topic subscriptions. Fanout is
// at-most-once per subscriber in arrival order; slow subscribers drop
// frames instead of blocking the sender.
type hub struct {
	mu      sync.RWMutex
	conns   map[string]*conn
	topics  map[string]map[string]*conn
	metrics *observability.BrokerMetrics
}

func newHub(metrics *observability.BrokerMetrics) *hub {
	return &hub{
		conns:   make(map[string]*conn),
		topics:  make(map[string]map[string]*conn),
		metrics: metrics,
	}
}

// add registers a connection and subscribes it to the broadcast topic.
func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.subscribeLocked(c, TopicBroadcast)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for _, subs := range h.topics {
		delete(subs, c.id)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}
}

func (h *hub) subscribe(c *conn, topic string) {
	h.mu.Lock()
	h.subscribeLocked(c, topic)
	h.mu.Unlock()
}

func (h *hub) subscribeLocked(c *conn, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*conn)
		h.topics[topic] = subs
	}
	subs[c.id] = c
}

func (h *hub) unsubscribe(c *conn, topic string) {
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c.id)
	}
	h.mu.Unlock()
}

func (h *hub) subscriptions(c *conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var topics []string
	for topic, subs := range h.topics {
		if _, ok := subs[c.id]; ok {
			topics = append(topics, topic)
		}
	}
	return topics
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *hub) connections() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// fanout enqueues raw onto every subscriber of topic except excludeID.
// Enqueue is non-blocking; a full send buffer drops the frame for that
// subscriber only.
func (h *hub) fanout(topic string, raw []byte, excludeID string) {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]*conn, 0, len(subs))
	for id, c := range subs {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(raw) {
			if h.metrics != nil {
				h.metrics.FanoutDelivered.WithLabelValues(topic).Inc()
			}
		} else if h.metrics != nil {
			h.metrics.FanoutDropped.WithLabelValues(topic).Inc()
		}
	}
}
