package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariesworks/comms/internal/observability"
	"github.com/ariesworks/comms/internal/protocol"
)

const (
	// DefaultPingInterval is the server initiated ping cadence.
	DefaultPingInterval = 5 * time.Second

	// DefaultMaxPayload bounds one websocket frame.
	DefaultMaxPayload = 16 << 20

	// staleMultiplier scales the ping interval into the staleness grace.
	staleMultiplier = 10
)

// ToolRouter consumes tool messages arriving on broker connections.
// Executions it accepts outlive the delivering connection.
type ToolRouter interface {
	Route(msg protocol.Message) bool
}

// Options configures a Broker.
type Options struct {
	Version      string
	PingInterval time.Duration
	MaxPayload   int64
	Registry     *protocol.Registry
	Tools        ToolRouter
	Logger       *slog.Logger
	Metrics      *observability.BrokerMetrics
}

// Broker is the websocket hub. It owns the subscription table, the physics
// registry and the last known active stream snapshot.
type Broker struct {
	version      string
	pingInterval time.Duration
	maxPayload   int64

	logger   *slog.Logger
	metrics  *observability.BrokerMetrics
	registry *protocol.Registry
	tools    ToolRouter
	hub      *hub
	physics  *physicsRegistry
	upgrader websocket.Upgrader

	// activeStreams holds the merged broadcast stream table. Replaced
	// wholesale so query responders read a consistent snapshot.
	activeStreams atomic.Pointer[map[string]any]
	streamsMu     sync.Mutex
	lastData      map[string]any
	synthetic     map[string]map[string]any

	startTime time.Time
	baseCtx   context.Context
	baseStop  context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Broker ready to serve.
func New(opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	if opts.Registry == nil {
		opts.Registry = protocol.NewRegistry()
	}
	b := &Broker{
		version:      opts.Version,
		pingInterval: opts.PingInterval,
		maxPayload:   opts.MaxPayload,
		logger:       opts.Logger.With("component", "broker"),
		metrics:      opts.Metrics,
		registry:     opts.Registry,
		tools:        opts.Tools,
		hub:          newHub(opts.Metrics),
		physics:      newPhysicsRegistry(),
		lastData:     map[string]any{},
		synthetic:    make(map[string]map[string]any),
		startTime:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    8192,
			WriteBufferSize:   8192,
			EnableCompression: true,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	b.registerWireTypes()
	empty := map[string]any{}
	b.activeStreams.Store(&empty)
	return b
}

// registerWireTypes adds the envelope-only broker types so registry
// statistics and introspection cover the full wire surface.
func (b *Broker) registerWireTypes() {
	for _, info := range []protocol.TypeInfo{
		{Type: protocol.TypePing, Category: protocol.CategorySystem, Description: "Liveness probe"},
		{Type: protocol.TypePong, Category: protocol.CategorySystem, Description: "Liveness reply"},
		{Type: protocol.TypeControl, Category: protocol.CategorySystem, Description: "Module control command", RequiresResponse: true},
		{Type: protocol.TypeConfigUpdate, Category: protocol.CategorySystem, Description: "Module config delta", RequiresResponse: true},
		{Type: protocol.TypeControlResp, Category: protocol.CategorySystem, Description: "Control command acknowledgement"},
		{Type: protocol.TypeConfigResp, Category: protocol.CategorySystem, Description: "Config delta acknowledgement"},
		{Type: protocol.TypePhysics, Category: protocol.CategorySystem, Description: "Physics simulation lifecycle"},
		{Type: protocol.TypeTradingStream, Category: protocol.CategorySystem, Description: "Trading feed passthrough"},
		{Type: protocol.TypeSystemInfo, Category: protocol.CategorySystem, Description: "Connection welcome frame"},
		{Type: protocol.TypeActiveStreams, Category: protocol.CategorySystem, Description: "Active stream snapshot reply"},
		{Type: protocol.TypeConnectionInfo, Category: protocol.CategorySystem, Description: "Connection liveness reply"},
		{Type: protocol.TypeError, Category: protocol.CategorySystem, Description: "Coded error reply"},
		{Type: protocol.TypeWarning, Category: protocol.CategorySystem, Description: "Advisory reply"},
		{Type: "subscribe", Category: protocol.CategorySystem, Description: "Topic subscription request"},
		{Type: "unsubscribe", Category: protocol.CategorySystem, Description: "Topic unsubscription request"},
	} {
		// Ignore duplicates so a shared registry can be reused.
		_ = b.registry.RegisterType(info)
	}
}

// Handler returns the HTTP handler serving the banner, status, metrics and
// websocket upgrade.
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", b.handleStatus)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && !websocket.IsWebSocketUpgrade(r) {
			fmt.Fprintf(w, "comms stream broker %s\n", b.version)
			return
		}
		b.serveWS(w, r)
	})
	return mux
}

// Start launches the liveness sweeper. The returned context parents every
// connection.
func (b *Broker) Start(ctx context.Context) {
	b.baseCtx, b.baseStop = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.livenessLoop(b.baseCtx)
	}()
}

// Shutdown closes all connections and stops background loops.
func (b *Broker) Shutdown() {
	if b.baseStop != nil {
		b.baseStop()
	}
	for _, c := range b.hub.connections() {
		c.close()
	}
	b.wg.Wait()
}

func (b *Broker) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := b.registry.Stats()
	payload := map[string]any{
		"status":              "ok",
		"version":             b.version,
		"connections":         b.hub.count(),
		"physics_simulations": b.physics.count(),
		"tool_support":        b.tools != nil,
		"timestamp":           protocol.Now(),
		"uptime_seconds":      time.Since(b.startTime).Seconds(),
		"message_types": map[string]any{
			"total":       stats.TotalTypes,
			"by_category": stats.ByCategory,
			"deprecated":  stats.DeprecatedCount,
		},
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	base := b.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	c := &conn{
		id:     uuid.NewString(),
		broker: b,
		sock:   sock,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
		status: connStatusConnected,
		// The silence window opens at accept; only pongs advance it.
		lastPongRecv: time.Now(),
	}
	c.logger = b.logger.With("connection_id", c.id, "remote", r.RemoteAddr)
	b.hub.add(c)
	c.logger.Info("connection accepted")

	c.sendMessage(b.systemInfo())
	b.sendPing(c)
	c.run()
}

// systemInfo is the welcome frame describing the broker's capabilities.
func (b *Broker) systemInfo() protocol.Message {
	return protocol.Message{
		protocol.FieldType:      protocol.TypeSystemInfo,
		"version":               b.version,
		"topics":                []string{TopicBroadcast, TopicPhysics, TopicTools, TopicTrading},
		"message_types":         b.registry.ListTypes(),
		"tool_support":          b.tools != nil,
		"max_payload_bytes":     b.maxPayload,
		"ping_interval_ms":      b.pingInterval.Milliseconds(),
		protocol.FieldTimestamp: protocol.Now(),
	}
}

func (b *Broker) sendPing(c *conn) {
	now := time.Now()
	c.recordPingSent(now)
	c.sendMessage(protocol.Message{
		protocol.FieldType:      protocol.TypePing,
		"target":                "sh",
		"timestamp":             now.UnixMilli(),
		"status":                "active",
		protocol.FieldTimestamp: protocol.Now(),
	})
}

// livenessLoop pings every connection on the interval and evicts those
// that stay silent past the grace windows.
func (b *Broker) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	grace := b.pingInterval * staleMultiplier
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, c := range b.hub.connections() {
				switch c.liveness(now, grace) {
				case connStatusClosed:
					c.logger.Warn("closing silent connection")
					c.close()
				case connStatusStale:
					c.logger.Warn("connection stale")
					b.sendPing(c)
				default:
					b.sendPing(c)
				}
			}
		}
	}
}

// setNegotiation replaces the cached broadcast stream table with the data
// of the latest negotiation envelope merged with synthetic physics entries.
func (b *Broker) setNegotiation(data map[string]any) {
	b.streamsMu.Lock()
	b.lastData = data
	b.storeMergedLocked()
	b.streamsMu.Unlock()
}

// setSynthetic records a physics-derived broadcast entry.
func (b *Broker) setSynthetic(key string, data map[string]any) {
	b.streamsMu.Lock()
	b.synthetic[key] = data
	b.storeMergedLocked()
	b.streamsMu.Unlock()
}

func (b *Broker) dropSynthetic(keys []string) {
	if len(keys) == 0 {
		return
	}
	b.streamsMu.Lock()
	for _, key := range keys {
		delete(b.synthetic, key)
	}
	b.storeMergedLocked()
	b.streamsMu.Unlock()
}

func (b *Broker) storeMergedLocked() {
	merged := make(map[string]any, len(b.lastData)+len(b.synthetic))
	for k, v := range b.lastData {
		merged[k] = v
	}
	for k, v := range b.synthetic {
		merged[k] = v
	}
	b.activeStreams.Store(&merged)
}

// ActiveStreams returns the current broadcast stream table snapshot.
func (b *Broker) ActiveStreams() map[string]any {
	return *b.activeStreams.Load()
}

// Publish fans a message out on a topic on behalf of an internal component,
// such as the tool manager delivering results.
func (b *Broker) Publish(topic string, msg protocol.Message) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		b.logger.Error("encoding publish failed", "topic", topic, "error", err)
		return
	}
	b.hub.fanout(topic, raw, "")
}
