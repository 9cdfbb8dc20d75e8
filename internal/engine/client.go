package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariesworks/comms/internal/backoff"
	"github.com/ariesworks/comms/internal/protocol"
)

const clientWriteWait = 10 * time.Second

// Client maintains the engine's websocket connection to the broker,
// reconnecting with exponential backoff and handing inbound messages to a
// callback. Sends while disconnected fail immediately; callers drop the
// frame and move on.
type Client struct {
	url       string
	logger    *slog.Logger
	policy    backoff.Policy
	onMessage func(protocol.Message)

	mu   sync.Mutex
	sock *websocket.Conn

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewClient builds a broker client delivering inbound messages to
// onMessage. Pass nil to ignore inbound traffic.
func NewClient(url string, logger *slog.Logger, onMessage func(protocol.Message)) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:       url,
		logger:    logger.With("component", "broker_client", "url", url),
		policy:    backoff.ReconnectPolicy(),
		onMessage: onMessage,
	}
}

// Start runs the connect/read/reconnect loop until the context ends.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop disconnects and waits for the loop to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.disconnect()
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		sock, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempt++
			delay := backoff.Delay(c.policy, attempt)
			c.logger.Warn("broker dial failed", "attempt", attempt, "retry_in", delay, "error", err)
			if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
				return
			}
			continue
		}
		attempt = 0
		c.logger.Info("connected to broker")
		c.setSock(sock)
		c.readUntilClosed(ctx, sock)
		c.disconnect()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("broker connection lost, reconnecting")
	}
}

func (c *Client) readUntilClosed(ctx context.Context, sock *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("discarding undecodable frame", "error", err)
			continue
		}
		// Answer liveness probes so the broker keeps the connection.
		if t, _ := protocol.TypeOf(msg); t == protocol.TypePing {
			if target, _ := msg["target"].(string); target == "sh" {
				pong := protocol.Message{
					protocol.FieldType:      protocol.TypePong,
					"target":                "sh",
					"status":                "active",
					protocol.FieldTimestamp: protocol.Now(),
				}
				if ts, ok := msg["timestamp"]; ok {
					pong["timestamp"] = ts
				}
				_ = c.Send(pong)
				continue
			}
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Client) setSock(sock *websocket.Conn) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
}

func (c *Client) disconnect() {
	c.mu.Lock()
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.mu.Unlock()
}

// Connected reports whether a broker connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

// Send writes one message to the broker. It fails when disconnected.
func (c *Client) Send(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return fmt.Errorf("not connected")
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if err := c.sock.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write to broker: %w", err)
	}
	return nil
}
