// Package modulesdk defines the contract between the engine and producer
// modules. Modules own streams, receive config deltas and control commands,
// and run a long-lived update loop. The package has no dependencies outside
// the standard library so plugin binaries stay light.
package modulesdk

import "context"

// Producer is the capability set every module must expose.
//
// UpdateStreams is the module's long-running update loop: it mutates the
// module's streams until the context is cancelled. The engine runs one
// goroutine per module; an error return is contained there and does not
// affect other modules.
type Producer interface {
	// Streams returns the streams owned by this module, keyed by stream id.
	// The map itself must be stable after construction; values are updated
	// through Stream.SetValue.
	Streams() map[string]*Stream

	// Config returns a copy of the module's configuration, taken under the
	// module's own lock. Callers may iterate the result while UpdateConfigs
	// runs concurrently; returning the live map is a data race.
	Config() map[string]any

	// UpdateStreams runs until ctx is cancelled, writing fresh values into
	// the module's streams.
	UpdateStreams(ctx context.Context) error

	// UpdateConfigs applies a config delta. Keys shaped "<stream_id>_value"
	// are writes to that stream's value, not config keys; ApplyConfigDelta
	// implements that convention for modules that want it.
	UpdateConfigs(updates map[string]any) error

	// ControlModule dispatches a command string to a module-internal
	// handler.
	ControlModule(command string) error
}

// Named is implemented by modules whose display name differs from their
// module id.
type Named interface {
	Name() string
}

// Cleaner is implemented by modules that hold external resources (serial
// ports, sockets, API clients) needing release on shutdown.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Debugger is implemented by modules that keep a ring of human-readable
// debug messages for surfacing through control responses.
type Debugger interface {
	DebugMessages() []string
}

// Logger is the log sink handed to modules at load time. Modules hold the
// sink, never the engine, which keeps the reference graph acyclic.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogSinkSetter is implemented by modules that want a log sink injected
// after no-argument construction.
type LogSinkSetter interface {
	SetLogger(logger Logger)
}

// ApplyConfigDelta splits a config delta into stream value writes and plain
// config updates, per the "<stream_id>_value" convention. Stream writes go
// to the matching stream; everything else lands in config.
func ApplyConfigDelta(streams map[string]*Stream, config map[string]any, updates map[string]any) {
	for key, value := range updates {
		if streamID, ok := streamValueKey(key); ok {
			if stream, exists := streams[streamID]; exists {
				stream.SetValue(value)
				continue
			}
		}
		config[key] = value
	}
}

func streamValueKey(key string) (string, bool) {
	const suffix = "_value"
	if len(key) <= len(suffix) || key[len(key)-len(suffix):] != suffix {
		return "", false
	}
	return key[:len(key)-len(suffix)], true
}
