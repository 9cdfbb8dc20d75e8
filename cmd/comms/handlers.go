// handlers.go contains the run functions behind each command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariesworks/comms/internal/broker"
	"github.com/ariesworks/comms/internal/config"
	"github.com/ariesworks/comms/internal/engine"
	"github.com/ariesworks/comms/internal/observability"
	"github.com/ariesworks/comms/internal/protocol"
	"github.com/ariesworks/comms/internal/tools"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the file at path, or returns built-in defaults when no
// path was given.
func loadConfig(path string, debug bool) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// runBroker starts the websocket hub and blocks until a signal arrives.
func runBroker(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath, debug)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Logging.LogConfig())
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(nil)

	// The manager publishes results back through the broker; the broker
	// does not exist yet, so the publisher closes over the variable.
	var b *broker.Broker
	manager := tools.NewManager(logger, metrics.Tools, func(result protocol.Message) {
		b.Publish(broker.TopicTools, result)
	}, tools.ManagerOptions{
		Source:     cfg.Tools.Source,
		Timeout:    cfg.Tools.Timeout(),
		MaxRetries: cfg.Tools.MaxRetries,
		Cleanup:    cfg.Tools.CleanupInterval(),
	})
	registerBuiltinTools(manager)

	b = broker.New(broker.Options{
		Version:      version,
		PingInterval: cfg.Broker.PingInterval(),
		MaxPayload:   cfg.Broker.MaxPayloadBytes,
		Tools:        tools.NewRouter(manager, logger),
		Logger:       logger,
		Metrics:      metrics.Broker,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	b.Start(ctx)
	manager.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("broker listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down broker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	b.Shutdown()
	manager.Stop()
	return nil
}

// registerBuiltinTools installs the executors every broker carries.
func registerBuiltinTools(manager *tools.Manager) {
	_ = manager.RegisterTool("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return params, nil
	})
	_ = manager.RegisterTool("list_tools", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"tools": manager.ListTools()}, nil
	})
	_ = manager.RegisterTool("wait", func(ctx context.Context, params map[string]any) (any, error) {
		seconds, _ := params["seconds"].(float64)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return map[string]any{"waited_seconds": seconds}, nil
		}
	})
}

// runEngine starts the module host and blocks until a signal arrives.
func runEngine(ctx context.Context, configPath, moduleDir, brokerURL string, debug bool) error {
	cfg, err := loadConfig(configPath, debug)
	if err != nil {
		return err
	}
	if moduleDir != "" {
		cfg.Engine.ModuleDir = moduleDir
	}
	if brokerURL != "" {
		cfg.Engine.BrokerURL = brokerURL
	}
	logger := observability.NewLogger(cfg.Logging.LogConfig())
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(nil)

	loader := engine.NewLoader(logger)
	modules := loader.Load(cfg.Engine.ModuleDir)
	if len(modules) == 0 {
		logger.Warn("no modules loaded, publishing empty snapshots")
	}
	for id, rate := range cfg.Engine.UpdateRates {
		m, ok := modules[id]
		if !ok {
			logger.Warn("update_rates names an unknown module", "module_id", id)
			continue
		}
		if err := m.ApplyConfig(map[string]any{"update_rate": rate}); err != nil {
			logger.Warn("applying update_rate failed", "module_id", id, "error", err)
		}
	}

	var e *engine.Engine
	client := engine.NewClient(cfg.Engine.BrokerURL, logger, func(msg protocol.Message) {
		e.HandleMessage(msg)
	})
	e = engine.New(modules, client, engine.Options{
		Source:          "engine",
		PublishInterval: cfg.Engine.PublishInterval(),
		Logger:          logger,
		Metrics:         metrics.Engine,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Engine.ModuleDir != "" {
		if stopWatch, err := loader.Watch(cfg.Engine.ModuleDir, nil); err == nil {
			defer func() { _ = stopWatch() }()
		}
	}

	client.Start(ctx)
	e.Start(ctx)
	logger.Info("engine running",
		"broker_url", cfg.Engine.BrokerURL, "modules", e.ModuleIDs())

	<-ctx.Done()
	logger.Info("shutting down engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	e.Stop(shutdownCtx)
	client.Stop()
	return nil
}

// runConfigSchema prints the JSON schema of the configuration file.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	cmd.Println(string(schema))
	return nil
}

// runConfigCheck loads a file and reports the effective settings.
func runConfigCheck(cmd *cobra.Command, configPath string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.Printf("config ok: broker %s:%d, engine -> %s, publish %.1f Hz\n",
		cfg.Broker.Host, cfg.Broker.Port, cfg.Engine.BrokerURL, cfg.Engine.PublishRateHz)
	return nil
}
