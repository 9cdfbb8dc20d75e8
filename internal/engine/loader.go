package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"github.com/ariesworks/comms/pkg/modulesdk"
)

// Loader discovers producer modules from compile-time registration and from
// shared-object plugins in a directory.
type Loader struct {
	logger *slog.Logger
}

// NewLoader builds a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With("component", "loader")}
}

// Load returns all discoverable modules keyed by module id: every factory
// registered through modulesdk plus every .so plugin under dir. A failure
// to load one plugin skips that plugin only. A missing directory is not
// fatal; the builtin factories still load.
func (l *Loader) Load(dir string) map[string]*Module {
	modules := make(map[string]*Module)

	for id, factory := range modulesdk.Registered() {
		producer, err := instantiate(factory)
		if err != nil {
			l.logger.Error("builtin module failed to construct", "module_id", id, "error", err)
			continue
		}
		l.injectLogger(id, producer)
		modules[id] = newModule(id, producer)
		l.logger.Info("loaded builtin module", "module_id", id)
	}

	if dir == "" {
		return modules
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("module directory does not exist", "dir", dir)
			return modules
		}
		l.logger.Error("reading module directory failed", "dir", dir, "error", err)
		return modules
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".so")
		if _, exists := modules[id]; exists {
			l.logger.Warn("plugin shadows an already loaded module, skipping",
				"module_id", id, "file", entry.Name())
			continue
		}
		producer, err := loadPluginProducer(filepath.Join(dir, entry.Name()), symbolName(id))
		if err != nil {
			l.logger.Error("plugin failed to load", "file", entry.Name(), "error", err)
			continue
		}
		l.injectLogger(id, producer)
		modules[id] = newModule(id, producer)
		l.logger.Info("loaded plugin module", "module_id", id, "file", entry.Name())
	}
	return modules
}

// injectLogger hands modules that want one a log sink scoped to their id.
func (l *Loader) injectLogger(id string, producer modulesdk.Producer) {
	if setter, ok := producer.(modulesdk.LogSinkSetter); ok {
		setter.SetLogger(slogSink{logger: l.logger.With("module_id", id)})
	}
}

// slogSink adapts *slog.Logger to the dependency-free modulesdk.Logger.
type slogSink struct {
	logger *slog.Logger
}

func (s slogSink) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s slogSink) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s slogSink) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s slogSink) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

// instantiate runs a factory with panic containment so one broken module
// cannot take down discovery.
func instantiate(factory modulesdk.Factory) (producer modulesdk.Producer, err error) {
	defer func() {
		if r := recover(); r != nil {
			producer = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	producer = factory()
	if producer == nil {
		return nil, fmt.Errorf("factory returned nil")
	}
	return producer, nil
}

// symbolName converts a plugin file stem to the exported symbol looked up
// inside it: "hw_module_1" becomes "HwModule1".
func symbolName(stem string) string {
	var sb strings.Builder
	upper := true
	for _, r := range stem {
		switch {
		case r == '_' || r == '-' || r == '.':
			upper = true
		case upper:
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Watch reports later changes to the module directory so operators know a
// restart is needed; plugins cannot be reloaded in-process.
func (l *Loader) Watch(dir string, onChange func(path string)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".so") {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					l.logger.Warn("module directory changed, restart required to apply",
						"file", event.Name, "op", event.Op.String())
					if onChange != nil {
						onChange(event.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("module directory watch error", "error", err)
			}
		}
	}()
	return watcher.Close, nil
}
