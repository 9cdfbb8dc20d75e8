package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ariesworks/comms/internal/backoff"
	"github.com/ariesworks/comms/internal/observability"
	"github.com/ariesworks/comms/internal/protocol"
)

const (
	// DefaultTimeout bounds executions whose tool_call carries no
	// context.timeout.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxRetries bounds retry attempts after a failed execution.
	DefaultMaxRetries = 3

	cleanupInterval = 60 * time.Second
)

// ResultPublisher receives every terminal tool_result the manager emits.
type ResultPublisher func(result protocol.Message)

// ManagerOptions tunes the execution manager. Zero values pick defaults.
type ManagerOptions struct {
	Source     string
	Timeout    time.Duration
	MaxRetries int
	// Cleanup is the stale-execution sweep period.
	Cleanup time.Duration
	// Sleep replaces the inter-retry sleep, letting tests skip real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now replaces the clock for cleanup tests.
	Now func() time.Time
}

// Manager owns tool registration and execution lifecycle. Every accepted
// tool_call produces exactly one terminal tool_result with the same
// execution id.
type Manager struct {
	mu         sync.Mutex
	executors  map[string]Executor
	executions map[string]*Execution
	callbacks  map[string][]func(protocol.Message)

	source     string
	timeout    time.Duration
	maxRetries int
	cleanup    time.Duration
	retryWait  backoff.Policy
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	publish ResultPublisher
	logger  *slog.Logger
	metrics *observability.ToolMetrics

	wg      sync.WaitGroup
	execCtx context.Context
	cancel  context.CancelFunc
}

// NewManager builds an execution manager publishing terminal results through
// publish.
func NewManager(logger *slog.Logger, metrics *observability.ToolMetrics, publish ResultPublisher, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if publish == nil {
		publish = func(protocol.Message) {}
	}
	m := &Manager{
		executors:  make(map[string]Executor),
		executions: make(map[string]*Execution),
		callbacks:  make(map[string][]func(protocol.Message)),
		source:     opts.Source,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		cleanup:    opts.Cleanup,
		retryWait:  backoff.ToolRetryPolicy(),
		sleep:      opts.Sleep,
		now:        opts.Now,
		publish:    publish,
		logger:     logger.With("component", "tool_manager"),
		metrics:    metrics,
	}
	if m.source == "" {
		m.source = "tool_manager"
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.maxRetries <= 0 {
		m.maxRetries = DefaultMaxRetries
	}
	if m.cleanup <= 0 {
		m.cleanup = cleanupInterval
	}
	if m.sleep == nil {
		m.sleep = backoff.Sleep
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// RegisterTool installs an executor. Re-registering a name replaces the
// previous executor.
func (m *Manager) RegisterTool(name string, exec Executor) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor for %q is nil", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executors[name]; ok {
		m.logger.Info("replacing tool executor", "tool", name)
	}
	m.executors[name] = exec
	return nil
}

// UnregisterTool removes an executor.
func (m *Manager) UnregisterTool(name string) {
	m.mu.Lock()
	delete(m.executors, name)
	m.mu.Unlock()
}

// ListTools returns the sorted registered tool names.
func (m *Manager) ListTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.executors))
	for name := range m.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the stale-execution cleanup loop and sets the context
// executions run under.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.execCtx = ctx
	m.cancel = cancel
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cleanup)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanupStale()
			}
		}
	}()
}

// Stop halts the cleanup loop, cancels in-flight executions so each delivers
// a CANCELLED terminal result, and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// execContext is the parent context for execution tasks. Executions belong
// to the manager, not to the connection that delivered the tool_call, so a
// caller disconnecting never aborts a running tool.
func (m *Manager) execContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.execCtx != nil {
		return m.execCtx
	}
	return context.Background()
}

// HandleToolCall validates and accepts a tool_call. Rejections are reported
// as error tool_results addressed to the caller; acceptance spawns the
// execution task under the manager's own context, so the execution survives
// the caller's connection.
func (m *Manager) HandleToolCall(msg protocol.Message) error {
	if err := protocol.Validate(msg); err != nil {
		return fmt.Errorf("invalid tool_call: %w", err)
	}
	executionID, _ := msg["execution_id"].(string)
	toolName, _ := msg["tool_name"].(string)
	params, _ := msg["parameters"].(map[string]any)
	correlationID, _ := msg[protocol.FieldCorrelationID].(string)
	workflowID, _ := msg[protocol.FieldWorkflowID].(string)
	caller, _ := msg[protocol.FieldSource].(string)

	m.mu.Lock()
	if _, ok := m.executions[executionID]; ok {
		m.mu.Unlock()
		m.logger.Warn("duplicate execution rejected", "execution_id", executionID, "tool", toolName)
		m.publishError(executionID, toolName, correlationID, workflowID, protocol.ErrorInfo{
			Code:    protocol.CodeDuplicateExecution,
			Message: fmt.Sprintf("execution %s already in progress", executionID),
		}, nil)
		return nil
	}
	exec, ok := m.executors[toolName]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("unknown tool requested", "execution_id", executionID, "tool", toolName, "caller", caller)
		m.publishError(executionID, toolName, correlationID, workflowID, protocol.ErrorInfo{
			Code:    protocol.CodeToolNotFound,
			Message: fmt.Sprintf("tool %q is not registered", toolName),
		}, nil)
		return nil
	}

	execution := &Execution{
		ID:            executionID,
		ToolName:      toolName,
		Source:        caller,
		Parameters:    params,
		CorrelationID: correlationID,
		WorkflowID:    workflowID,
		status:        protocol.StatusPending,
		startedAt:     m.now(),
		timeout:       m.effectiveTimeout(msg),
		maxRetries:    m.effectiveMaxRetries(msg),
	}
	m.executions[executionID] = execution
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ExecutionsStarted.WithLabelValues(toolName).Inc()
	}
	m.logger.Info("execution accepted",
		"execution_id", executionID, "tool", toolName,
		"timeout", execution.timeout, "caller", caller)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.execContext(), execution, exec)
	}()
	return nil
}

func (m *Manager) effectiveTimeout(msg protocol.Message) time.Duration {
	if callCtx, ok := msg["context"].(map[string]any); ok {
		if seconds, ok := callCtx["timeout"].(float64); ok && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return m.timeout
}

func (m *Manager) effectiveMaxRetries(msg protocol.Message) int {
	if callCtx, ok := msg["context"].(map[string]any); ok {
		switch v := callCtx["retry_count"].(type) {
		case float64:
			if v > 0 {
				return int(v)
			}
		case int:
			if v > 0 {
				return v
			}
		}
	}
	return m.maxRetries
}

// run drives one execution to its terminal result.
func (m *Manager) run(ctx context.Context, execution *Execution, exec Executor) {
	runCtx, cancel := context.WithTimeout(ctx, execution.timeout)
	defer cancel()
	execution.mu.Lock()
	execution.cancel = cancel
	execution.mu.Unlock()
	execution.setStatus(protocol.StatusRunning)

	for {
		result, err := m.invoke(runCtx, execution, exec)
		if err == nil {
			m.finish(execution, protocol.StatusSuccess, result, nil)
			return
		}

		if runCtx.Err() != nil {
			// Cancellation and timeout are terminal immediately, never retried.
			m.finishInterrupted(execution, runCtx)
			return
		}

		retry := execution.bumpRetry()
		if retry >= execution.maxRetries {
			m.finish(execution, protocol.StatusError, nil, &protocol.ErrorInfo{
				Code:    protocol.CodeExecutionFailed,
				Message: fmt.Sprintf("tool %s failed after %d attempts: %v", execution.ToolName, retry, err),
			})
			return
		}

		delay := backoff.Delay(m.retryWait, retry)
		m.logger.Warn("execution attempt failed, retrying",
			"execution_id", execution.ID, "tool", execution.ToolName,
			"attempt", retry, "delay", delay, "error", err)
		if sleepErr := m.sleep(runCtx, delay); sleepErr != nil {
			m.finishInterrupted(execution, runCtx)
			return
		}
	}
}

// finishInterrupted maps a dead run context to its terminal result. A hit
// deadline is a TIMEOUT; plain cancellation (manager shutdown, or an
// explicit Cancel racing the run loop) is CANCELLED. finish suppresses the
// duplicate when Cancel already delivered the terminal result.
func (m *Manager) finishInterrupted(execution *Execution, runCtx context.Context) {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		m.finish(execution, protocol.StatusError, nil, &protocol.ErrorInfo{
			Code:    protocol.CodeTimeout,
			Message: fmt.Sprintf("execution exceeded %s", execution.timeout),
		})
		return
	}
	m.finish(execution, protocol.StatusCancelled, nil, &protocol.ErrorInfo{
		Code:    protocol.CodeCancelled,
		Message: "execution cancelled before completion",
	})
}

// invoke runs the executor once, containing panics as errors.
func (m *Manager) invoke(ctx context.Context, execution *Execution, exec Executor) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return exec(ctx, execution.Parameters)
}

// Cancel delivers a CANCELLED terminal result unless one was already sent.
func (m *Manager) Cancel(executionID, reason string) error {
	m.mu.Lock()
	execution, ok := m.executions[executionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	execution.setStatus(protocol.StatusCancelled)
	execution.mu.Lock()
	cancel := execution.cancel
	execution.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.finish(execution, protocol.StatusCancelled, nil, &protocol.ErrorInfo{
		Code:    protocol.CodeCancelled,
		Message: reason,
	})
	return nil
}

// finish emits the terminal result for an execution exactly once.
func (m *Manager) finish(execution *Execution, status string, result any, errInfo *protocol.ErrorInfo) {
	if !execution.markDelivered() {
		return
	}
	execution.mu.Lock()
	execution.status = status
	execution.finishedAt = m.now()
	execution.mu.Unlock()

	msg, err := protocol.NewToolResult(m.source, execution.ID, execution.ToolName, status, protocol.ToolResultOptions{
		Result:        normalizeResult(status, result),
		Error:         errInfo,
		ExecutionInfo: execution.executionInfo(),
		CorrelationID: execution.CorrelationID,
		WorkflowID:    execution.WorkflowID,
	})
	if err != nil {
		m.logger.Error("building tool_result failed",
			"execution_id", execution.ID, "status", status, "error", err)
		msg = protocol.Message{
			protocol.FieldType:      protocol.TypeToolResult,
			protocol.FieldSource:    m.source,
			"execution_id":          execution.ID,
			"tool_name":             execution.ToolName,
			"status":                protocol.StatusError,
			"error":                 map[string]any{"code": protocol.CodeHandlerError, "message": err.Error()},
			protocol.FieldTimestamp: protocol.NowUTC(),
		}
	}

	if m.metrics != nil {
		m.metrics.ExecutionsFinished.WithLabelValues(execution.ToolName, status).Inc()
		m.metrics.ExecutionDuration.WithLabelValues(execution.ToolName).
			Observe(m.now().Sub(execution.startedAt).Seconds())
	}
	m.logger.Info("execution finished",
		"execution_id", execution.ID, "tool", execution.ToolName,
		"status", status, "retries", execution.RetryCount())

	m.publish(msg)
	m.runCallbacks(execution.ID, msg)

	m.mu.Lock()
	delete(m.executions, execution.ID)
	m.mu.Unlock()
}

// normalizeResult substitutes an empty object so success results always
// carry a payload.
func normalizeResult(status string, result any) any {
	if status != protocol.StatusSuccess && status != protocol.StatusPartial {
		return nil
	}
	if result == nil {
		return map[string]any{}
	}
	return result
}

// publishError emits an error result for a call that never became an
// execution.
func (m *Manager) publishError(executionID, toolName, correlationID, workflowID string, errInfo protocol.ErrorInfo, info *protocol.ExecutionInfo) {
	msg, err := protocol.NewToolResult(m.source, executionID, toolName, protocol.StatusError, protocol.ToolResultOptions{
		Error:         &errInfo,
		ExecutionInfo: info,
		CorrelationID: correlationID,
		WorkflowID:    workflowID,
	})
	if err != nil {
		m.logger.Error("building rejection result failed", "execution_id", executionID, "error", err)
		return
	}
	if m.metrics != nil {
		m.metrics.ExecutionsRejected.WithLabelValues(errInfo.Code).Inc()
	}
	m.publish(msg)
}

// HandleToolResult processes an inbound result for an execution this manager
// is tracking, recording the payload, running callbacks and removing
// terminal executions. Results for unknown ids are logged and dropped.
func (m *Manager) HandleToolResult(msg protocol.Message) error {
	if err := protocol.Validate(msg); err != nil {
		return fmt.Errorf("invalid tool_result: %w", err)
	}
	executionID, _ := msg["execution_id"].(string)
	status, _ := msg["status"].(string)

	m.mu.Lock()
	execution, ok := m.executions[executionID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("result for unknown execution dropped", "execution_id", executionID, "status", status)
		return nil
	}

	execution.recordResult(status, msg["result"], msg["error"])
	m.runCallbacks(executionID, msg)
	if isTerminal(status) {
		m.mu.Lock()
		delete(m.executions, executionID)
		m.mu.Unlock()
	}
	return nil
}

func isTerminal(status string) bool {
	switch status {
	case protocol.StatusSuccess, protocol.StatusError, protocol.StatusTimeout, protocol.StatusCancelled:
		return true
	}
	return false
}

// OnResult registers a callback invoked with every result for an execution.
func (m *Manager) OnResult(executionID string, fn func(protocol.Message)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.callbacks[executionID] = append(m.callbacks[executionID], fn)
	m.mu.Unlock()
}

func (m *Manager) runCallbacks(executionID string, msg protocol.Message) {
	m.mu.Lock()
	fns := m.callbacks[executionID]
	delete(m.callbacks, executionID)
	m.mu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("result callback panicked", "execution_id", executionID, "panic", r)
				}
			}()
			fn(msg)
		}()
	}
}

// ListActive returns snapshots of all tracked executions, oldest first.
func (m *Manager) ListActive() []Snapshot {
	now := m.now()
	m.mu.Lock()
	snapshots := make([]Snapshot, 0, len(m.executions))
	for _, execution := range m.executions {
		snapshots = append(snapshots, execution.snapshot(now))
	}
	m.mu.Unlock()
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartTime < snapshots[j].StartTime
	})
	return snapshots
}

// cleanupStale cancels executions that outlived their timeout without
// delivering a result.
func (m *Manager) cleanupStale() {
	now := m.now()
	m.mu.Lock()
	var stale []*Execution
	for _, execution := range m.executions {
		execution.mu.Lock()
		expired := now.Sub(execution.startedAt) > execution.timeout
		execution.mu.Unlock()
		if expired {
			stale = append(stale, execution)
		}
	}
	m.mu.Unlock()
	for _, execution := range stale {
		m.logger.Warn("cleaning up stale execution", "execution_id", execution.ID, "tool", execution.ToolName)
		_ = m.Cancel(execution.ID, "execution exceeded timeout without result")
	}
}
