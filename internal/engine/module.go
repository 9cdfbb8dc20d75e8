// Package engine hosts producer modules: it discovers them through the
// loader, runs each module's update loop, aggregates stream snapshots into
// negotiation envelopes, and applies inbound control and config messages.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/ariesworks/comms/pkg/modulesdk"
)

// Module lifecycle states.
const (
	StatusLoading = "loading"
	StatusActive  = "active"
	StatusError   = "error"
	StatusStopped = "stopped"
)

const debugRingCap = 100

// Module wraps one loaded producer with the host-side bookkeeping the
// engine needs: lifecycle status, error accounting and a debug ring.
type Module struct {
	ID       string
	producer modulesdk.Producer

	mu         sync.Mutex
	name       string
	status     string
	errorCount int
	lastError  string
	updatedAt  time.Time
	debug      []string
	// cancelTask stops this module's update loop; set by the engine at start.
	cancelTask func()
}

func newModule(id string, producer modulesdk.Producer) *Module {
	name := id
	if named, ok := producer.(modulesdk.Named); ok && named.Name() != "" {
		name = named.Name()
	}
	return &Module{
		ID:       id,
		producer: producer,
		name:     name,
		status:   StatusLoading,
	}
}

// Producer exposes the wrapped producer for lifecycle calls.
func (m *Module) Producer() modulesdk.Producer {
	return m.producer
}

// Status returns the current lifecycle status.
func (m *Module) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Module) setStatus(status string) {
	m.mu.Lock()
	m.status = status
	m.updatedAt = time.Now()
	m.mu.Unlock()
}

func (m *Module) setCancel(cancel func()) {
	m.mu.Lock()
	m.cancelTask = cancel
	m.mu.Unlock()
}

// stopTask marks the module stopped and cancels its update loop.
func (m *Module) stopTask() {
	m.mu.Lock()
	m.status = StatusStopped
	m.updatedAt = time.Now()
	cancel := m.cancelTask
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// recordError marks the module errored and remembers the failure.
func (m *Module) recordError(err error) {
	m.mu.Lock()
	m.status = StatusError
	m.errorCount++
	m.lastError = err.Error()
	m.updatedAt = time.Now()
	m.mu.Unlock()
}

// ErrorCount returns how many update failures the module has had.
func (m *Module) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// LastError returns the most recent failure message, empty when healthy.
func (m *Module) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// pushDebug appends a line to the debug ring, dropping the oldest past cap.
func (m *Module) pushDebug(line string) {
	m.mu.Lock()
	m.debug = append(m.debug, line)
	if len(m.debug) > debugRingCap {
		m.debug = m.debug[len(m.debug)-debugRingCap:]
	}
	m.mu.Unlock()
}

// DebugMessages collects host-side debug lines plus the module's own ring
// when it exposes one.
func (m *Module) DebugMessages() []string {
	m.mu.Lock()
	out := make([]string, len(m.debug))
	copy(out, m.debug)
	m.mu.Unlock()
	if debugger, ok := m.producer.(modulesdk.Debugger); ok {
		out = append(out, debugger.DebugMessages()...)
	}
	if len(out) > debugRingCap {
		out = out[len(out)-debugRingCap:]
	}
	return out
}

// ApplyConfig forwards a config delta to the producer. Keys shaped
// "<stream_id>_value" are stream writes per the producer contract.
func (m *Module) ApplyConfig(updates map[string]any) error {
	if err := m.producer.UpdateConfigs(updates); err != nil {
		m.recordError(fmt.Errorf("config update: %w", err))
		return err
	}
	m.mu.Lock()
	m.updatedAt = time.Now()
	m.mu.Unlock()
	return nil
}

// ApplyControl forwards a command to the producer. A stop command also
// cancels the module's update task; peers keep running.
func (m *Module) ApplyControl(command string) error {
	if command == "stop" {
		defer m.stopTask()
	}
	if err := m.producer.ControlModule(command); err != nil {
		m.recordError(fmt.Errorf("control %q: %w", command, err))
		return err
	}
	m.mu.Lock()
	m.updatedAt = time.Now()
	m.mu.Unlock()
	return nil
}

// Snapshot serializes the module for a negotiation envelope.
func (m *Module) Snapshot() map[string]any {
	m.mu.Lock()
	name := m.name
	status := m.status
	errorCount := m.errorCount
	lastError := m.lastError
	updatedAt := m.updatedAt
	m.mu.Unlock()

	streams := make(map[string]any)
	for id, stream := range m.producer.Streams() {
		streams[id] = stream.Snapshot()
	}
	// Config() hands back a copy per the producer contract, safe to hold
	// while the module's own update loop keeps mutating its config.
	config := m.producer.Config()
	if config == nil {
		config = map[string]any{}
	}

	snapshot := map[string]any{
		"module_id":               m.ID,
		"name":                    name,
		"status":                  status,
		"module-update-timestamp": updatedAt.Format(modulesdk.TimestampLayout),
		"config":                  config,
		"streams":                 streams,
	}
	if errorCount > 0 {
		snapshot["error_count"] = errorCount
		snapshot["last_error"] = lastError
	}
	return snapshot
}
