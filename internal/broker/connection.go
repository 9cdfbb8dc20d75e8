package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariesworks/comms/internal/protocol"
)

// Connection lifecycle states.
const (
	connStatusConnected = "connected"
	connStatusStale     = "stale"
	connStatusClosed    = "closed"
)

const writeWait = 10 * time.Second

// conn is one websocket connection to the broker.
type conn struct {
	id     string
	broker *Broker
	sock   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu           sync.Mutex
	status       string
	lastPingSent time.Time
	lastPongRecv time.Time
	latencyMs    float64

	closeOnce sync.Once
}

func (c *conn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = connStatusClosed
		c.mu.Unlock()
		c.cancel()
		c.broker.hub.remove(c)
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.sock.Close()
		c.logger.Info("connection closed")
	})
}

func (c *conn) readLoop() {
	c.sock.SetReadLimit(c.broker.maxPayload)
	for {
		messageType, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.broker.handleFrame(c, data)
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case raw, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

// enqueue offers a frame to this connection without blocking. Reports
// whether the frame was accepted.
func (c *conn) enqueue(raw []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// sendMessage serializes and enqueues a message for this connection only.
func (c *conn) sendMessage(msg protocol.Message) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("encoding outbound message failed", "error", err)
		return
	}
	if !c.enqueue(raw) {
		c.logger.Warn("dropping frame for slow connection")
	}
}

func (c *conn) recordPingSent(at time.Time) {
	c.mu.Lock()
	c.lastPingSent = at
	c.mu.Unlock()
}

// recordPong updates liveness and derives a latency estimate from the
// echoed ping timestamp.
func (c *conn) recordPong(echoed time.Time, now time.Time) {
	c.mu.Lock()
	c.lastPongRecv = now
	c.status = connStatusConnected
	if !echoed.IsZero() {
		if rtt := now.Sub(echoed); rtt > 0 {
			c.latencyMs = float64(rtt) / float64(time.Millisecond)
		}
	}
	c.mu.Unlock()
	if c.broker.metrics != nil && !echoed.IsZero() {
		if rtt := now.Sub(echoed); rtt > 0 {
			c.broker.metrics.PingLatency.Observe(rtt.Seconds())
		}
	}
}

// liveness classifies the connection against the ping interval grace
// windows and returns the resulting status. Silence is measured from the
// last pong received; outbound pings never refresh the reference, so a
// peer that stops answering ages out even while the broker keeps pinging.
func (c *conn) liveness(now time.Time, grace time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == connStatusClosed {
		return connStatusClosed
	}
	reference := c.lastPongRecv
	if reference.IsZero() {
		return c.status
	}
	silent := now.Sub(reference)
	switch {
	case silent > 2*grace:
		c.status = connStatusClosed
	case silent > grace:
		c.status = connStatusStale
	default:
		c.status = connStatusConnected
	}
	return c.status
}

// info captures the liveness view exposed by connection_info queries.
func (c *conn) info() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]any{
		"connection_id": c.id,
		"status":        c.status,
		"latency_ms":    c.latencyMs,
	}
	if !c.lastPingSent.IsZero() {
		out["last_ping_sent"] = c.lastPingSent.Format(protocol.WallClockLayout)
	}
	if !c.lastPongRecv.IsZero() {
		out["last_pong_recv"] = c.lastPongRecv.Format(protocol.WallClockLayout)
	}
	return out
}

// normalizeEpoch converts a client-supplied epoch timestamp to time.Time,
// detecting milliseconds by magnitude (values above 1e12 are treated as
// milliseconds since epoch).
func normalizeEpoch(value float64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1e12 {
		ms := int64(value)
		return time.UnixMilli(ms)
	}
	sec := int64(value)
	frac := value - float64(sec)
	return time.Unix(sec, int64(frac*float64(time.Second)))
}
