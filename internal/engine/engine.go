package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ariesworks/comms/internal/observability"
	"github.com/ariesworks/comms/internal/protocol"
	"github.com/ariesworks/comms/pkg/modulesdk"
)

const (
	// DefaultPublishInterval yields the 10 Hz snapshot rate.
	DefaultPublishInterval = 100 * time.Millisecond

	// defaultErrorSleep throttles a module whose update loop keeps failing.
	defaultErrorSleep = time.Second
)

// Publisher delivers outbound envelopes to the broker. Send may fail while
// disconnected; the engine drops the frame and publishes the next snapshot
// instead (latest-value semantics).
type Publisher interface {
	Send(msg protocol.Message) error
}

// Options tunes the engine host.
type Options struct {
	Source          string
	PublishInterval time.Duration
	// ErrorSleep replaces the post-failure throttle, letting tests run hot.
	ErrorSleep time.Duration
	Logger     *slog.Logger
	Metrics    *observability.EngineMetrics
}

// Engine hosts loaded modules, runs their update loops, publishes
// negotiation snapshots and applies inbound control traffic.
type Engine struct {
	source          string
	publishInterval time.Duration
	errorSleep      time.Duration

	mu      sync.RWMutex
	modules map[string]*Module

	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.EngineMetrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an engine hosting the given modules.
func New(modules map[string]*Module, publisher Publisher, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Source == "" {
		opts.Source = "engine"
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	if opts.ErrorSleep <= 0 {
		opts.ErrorSleep = defaultErrorSleep
	}
	if modules == nil {
		modules = make(map[string]*Module)
	}
	return &Engine{
		source:          opts.Source,
		publishInterval: opts.PublishInterval,
		errorSleep:      opts.ErrorSleep,
		modules:         modules,
		publisher:       publisher,
		logger:          opts.Logger.With("component", "engine"),
		metrics:         opts.Metrics,
	}
}

// Modules returns the hosted modules keyed by id.
func (e *Engine) Modules() map[string]*Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*Module, len(e.modules))
	for id, m := range e.modules {
		out[id] = m
	}
	return out
}

// ModuleIDs returns the sorted hosted module ids.
func (e *Engine) ModuleIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.modules))
	for id := range e.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches one update task per module and the publish loop. Each
// module task gets its own cancel so control stop halts one module without
// touching its peers.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	for _, m := range e.Modules() {
		m.setStatus(StatusActive)
		taskCtx, taskCancel := context.WithCancel(ctx)
		m.setCancel(taskCancel)
		e.wg.Add(1)
		go func(m *Module, taskCtx context.Context) {
			defer e.wg.Done()
			e.updateLoop(taskCtx, m)
		}(m, taskCtx)
	}
	e.updateModuleGauge()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.publishLoop(ctx)
	}()
}

// Stop cancels all tasks, waits for them, and releases module resources.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	for _, m := range e.Modules() {
		m.setStatus(StatusStopped)
		if cleaner, ok := m.Producer().(modulesdk.Cleaner); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				e.logger.Warn("module cleanup failed", "module_id", m.ID, "error", err)
			}
		}
	}
	e.updateModuleGauge()
}

// updateLoop drives one module's update task, containing failures so a
// broken module never stops its peers.
func (e *Engine) updateLoop(ctx context.Context, m *Module) {
	for {
		err := e.runUpdate(ctx, m)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.recordError(err)
			m.pushDebug(fmt.Sprintf("%s update failed: %v", protocol.Now(), err))
			e.logger.Error("module update failed",
				"module_id", m.ID, "error", err, "error_count", m.ErrorCount())
			if e.metrics != nil {
				e.metrics.ModuleUpdates.WithLabelValues(m.ID, "error").Inc()
			}
			e.updateModuleGauge()
		} else {
			e.logger.Warn("module update loop returned early, restarting", "module_id", m.ID)
		}
		// Throttle before restarting so a hot failure loop cannot spin.
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.errorSleep):
		}
		if m.Status() == StatusStopped {
			return
		}
		m.setStatus(StatusActive)
	}
}

func (e *Engine) runUpdate(ctx context.Context, m *Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()
	return m.Producer().UpdateStreams(ctx)
}

// publishLoop samples all module snapshots at the configured rate and sends
// one negotiation envelope per tick.
func (e *Engine) publishLoop(ctx context.Context) {
	if e.publisher == nil {
		return
	}
	ticker := time.NewTicker(e.publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.publisher.Send(e.BuildNegotiation()); err != nil {
				// Disconnected. The next tick carries fresher data anyway.
				e.logger.Debug("snapshot dropped", "error", err)
				continue
			}
			if e.metrics != nil {
				e.metrics.PublishCycles.Inc()
			}
		}
	}
}

// Snapshot samples every module. The sample is non-atomic across modules.
func (e *Engine) Snapshot() map[string]any {
	data := make(map[string]any)
	for id, m := range e.Modules() {
		data[id] = m.Snapshot()
	}
	return data
}

// BuildNegotiation wraps the current snapshot in the wire envelope.
func (e *Engine) BuildNegotiation() protocol.Message {
	return protocol.Message{
		protocol.FieldType:      protocol.TypeNegotiation,
		protocol.FieldSource:    e.source,
		"status":                "active",
		"data":                  e.Snapshot(),
		protocol.FieldTimestamp: protocol.Now(),
	}
}

// HandleMessage applies one inbound broker message. Control and config
// types addressed to a hosted module produce a response envelope; all other
// types are ignored as traffic for other subscribers.
func (e *Engine) HandleMessage(msg protocol.Message) {
	messageType, ok := protocol.TypeOf(msg)
	if !ok {
		return
	}
	switch messageType {
	case protocol.TypeControl:
		command, _ := msg["command"].(string)
		e.respond(msg, protocol.TypeControlResp, func(m *Module) error {
			return m.ApplyControl(command)
		})
	case protocol.TypeConfigUpdate:
		config, _ := msg["config"].(map[string]any)
		e.respond(msg, protocol.TypeConfigResp, func(m *Module) error {
			if config == nil {
				return fmt.Errorf("config_update carries no config object")
			}
			return m.ApplyConfig(config)
		})
	}
}

// respond runs an action against the addressed module and sends the
// response envelope with status, error and debug messages.
func (e *Engine) respond(msg protocol.Message, responseType string, action func(*Module) error) {
	moduleID, _ := msg["module_id"].(string)
	reply := protocol.Message{
		protocol.FieldType:      responseType,
		protocol.FieldSource:    e.source,
		"module_id":             moduleID,
		protocol.FieldTimestamp: protocol.Now(),
	}
	if correlationID, ok := msg[protocol.FieldCorrelationID].(string); ok && correlationID != "" {
		reply[protocol.FieldCorrelationID] = correlationID
	}

	e.mu.RLock()
	m, ok := e.modules[moduleID]
	e.mu.RUnlock()
	switch {
	case !ok:
		reply["status"] = "error"
		reply["error"] = fmt.Sprintf("unknown module: %s", moduleID)
	default:
		if err := action(m); err != nil {
			reply["status"] = "error"
			reply["error"] = err.Error()
		} else {
			reply["status"] = "success"
		}
		if debug := m.DebugMessages(); len(debug) > 0 {
			reply["debug_messages"] = debug
		}
	}

	if e.publisher == nil {
		return
	}
	if err := e.publisher.Send(reply); err != nil {
		e.logger.Warn("sending response failed", "type", responseType, "error", err)
	}
}

func (e *Engine) updateModuleGauge() {
	if e.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, m := range e.Modules() {
		counts[m.Status()]++
	}
	for _, status := range []string{StatusLoading, StatusActive, StatusError, StatusStopped} {
		e.metrics.ModulesLoaded.WithLabelValues(status).Set(float64(counts[status]))
	}
}
