package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariesworks/comms/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager wires a manager with instant retries and a result channel.
func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, chan protocol.Message) {
	t.Helper()
	results := make(chan protocol.Message, 16)
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		}
	}
	m := NewManager(testLogger(), nil, func(msg protocol.Message) {
		results <- msg
	}, opts)
	return m, results
}

func makeCall(t *testing.T, executionID, tool string, params map[string]any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewToolCall("test_client", tool, params, protocol.ToolCallOptions{ExecutionID: executionID})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitResult(t *testing.T, results chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg := <-results:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tool_result")
		return nil
	}
}

func errorCode(msg protocol.Message) string {
	errInfo, _ := msg["error"].(map[string]any)
	code, _ := errInfo["code"].(string)
	return code
}

func TestExecutionSuccess(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	err := m.RegisterTool("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"echo": params["value"]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_00000001", "echo", map[string]any{"value": "hi"})
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}

	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusSuccess {
		t.Fatalf("status = %v, want success", msg["status"])
	}
	if msg["execution_id"] != "exec_00000001" {
		t.Errorf("execution_id = %v", msg["execution_id"])
	}
	result, _ := msg["result"].(map[string]any)
	if result["echo"] != "hi" {
		t.Errorf("result = %v", msg["result"])
	}
	info, _ := msg["execution_info"].(map[string]any)
	if info == nil {
		t.Fatal("execution_info missing")
	}
	if info["retry_count"] != 0 {
		t.Errorf("retry_count = %v, want 0", info["retry_count"])
	}
	if len(m.ListActive()) != 0 {
		t.Error("execution not removed after terminal result")
	}
}

func TestUnknownToolRejected(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	call := makeCall(t, "exec_00000002", "no_such_tool", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("status = %v, want error", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeToolNotFound {
		t.Errorf("code = %q, want TOOL_NOT_FOUND", code)
	}
}

// A second call with the same execution id is rejected and the first still
// produces exactly one terminal result.
func TestDuplicateExecutionID(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	release := make(chan struct{})
	err := m.RegisterTool("slow", func(ctx context.Context, params map[string]any) (any, error) {
		<-release
		return map[string]any{"done": true}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	first := makeCall(t, "exec_dup00001", "slow", nil)
	if err := m.HandleToolCall(first); err != nil {
		t.Fatal(err)
	}
	second := makeCall(t, "exec_dup00001", "slow", nil)
	if err := m.HandleToolCall(second); err != nil {
		t.Fatal(err)
	}

	dup := waitResult(t, results)
	if code := errorCode(dup); code != protocol.CodeDuplicateExecution {
		t.Fatalf("code = %q, want DUPLICATE_EXECUTION", code)
	}

	close(release)
	final := waitResult(t, results)
	if final["status"] != protocol.StatusSuccess {
		t.Fatalf("status = %v, want success", final["status"])
	}

	// No further results may arrive for this id.
	select {
	case extra := <-results:
		t.Fatalf("unexpected extra result: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeoutIsTerminalWithoutRetry(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	var attempts int32
	err := m.RegisterTool("hang", func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&attempts, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_hang0001", "hang", nil)
	callCtx, _ := call["context"].(map[string]any)
	if callCtx == nil {
		callCtx = map[string]any{}
	}
	callCtx["timeout"] = 0.05
	call["context"] = callCtx

	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("status = %v, want error", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeTimeout {
		t.Errorf("code = %q, want TIMEOUT", code)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (timeout never retries)", got)
	}
}

func TestRetriesThenExecutionFailed(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{MaxRetries: 3})
	var attempts int32
	err := m.RegisterTool("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("transient fault")
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_flaky001", "flaky", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("status = %v, want error", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeExecutionFailed {
		t.Errorf("code = %q, want EXECUTION_FAILED", code)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	info, _ := msg["execution_info"].(map[string]any)
	if info["retry_count"] != 3 {
		t.Errorf("retry_count = %v, want 3", info["retry_count"])
	}
}

func TestRetryThenSuccess(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{MaxRetries: 3})
	var attempts int32
	err := m.RegisterTool("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return nil, errors.New("transient fault")
		}
		return map[string]any{"ok": true}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_flaky002", "flaky", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusSuccess {
		t.Fatalf("status = %v, want success", msg["status"])
	}
	info, _ := msg["execution_info"].(map[string]any)
	if info["retry_count"] != 1 {
		t.Errorf("retry_count = %v, want 1", info["retry_count"])
	}
}

func TestPanicContainedAsFailure(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{MaxRetries: 1})
	err := m.RegisterTool("bomb", func(ctx context.Context, params map[string]any) (any, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatal(err)
	}
	call := makeCall(t, "exec_bomb0001", "bomb", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("status = %v, want error", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeExecutionFailed {
		t.Errorf("code = %q, want EXECUTION_FAILED", code)
	}
}

func TestCancelDeliversTerminalOnce(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	started := make(chan struct{})
	err := m.RegisterTool("slow", func(ctx context.Context, params map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	call := makeCall(t, "exec_cancel01", "slow", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := m.Cancel("exec_cancel01", "operator abort"); err != nil {
		t.Fatal(err)
	}
	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeCancelled {
		t.Errorf("code = %q, want CANCELLED", code)
	}
	select {
	case extra := <-results:
		t.Fatalf("unexpected extra result: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	if err := m.Cancel("exec_cancel01", ""); err == nil {
		t.Error("cancelling a finished execution should fail")
	}
}

func TestListActive(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	release := make(chan struct{})
	err := m.RegisterTool("slow", func(ctx context.Context, params map[string]any) (any, error) {
		<-release
		return map[string]any{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		call := makeCall(t, fmt.Sprintf("exec_list000%d", i), "slow", nil)
		if err := m.HandleToolCall(call); err != nil {
			t.Fatal(err)
		}
	}
	snapshots := m.ListActive()
	if len(snapshots) != 3 {
		t.Fatalf("active = %d, want 3", len(snapshots))
	}
	for _, s := range snapshots {
		if s.ToolName != "slow" {
			t.Errorf("tool = %q", s.ToolName)
		}
	}
	close(release)
}

func TestInboundResultForUnknownIDDropped(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	msg, err := protocol.NewToolResult("remote", "exec_ghost001", "echo", protocol.StatusSuccess, protocol.ToolResultOptions{
		Result: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.HandleToolResult(msg); err != nil {
		t.Errorf("unknown id should be dropped silently, got %v", err)
	}
}

func TestOnResultCallback(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	err := m.RegisterTool("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan protocol.Message, 1)
	m.OnResult("exec_cb000001", func(msg protocol.Message) { got <- msg })

	call := makeCall(t, "exec_cb000001", "echo", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	waitResult(t, results)
	select {
	case msg := <-got:
		if msg["execution_id"] != "exec_cb000001" {
			t.Errorf("callback got %v", msg["execution_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

// Shutting the manager down while a tool is running is a cancellation, not
// a timeout.
func TestStopCancelsInFlightExecutions(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	m.Start(context.Background())
	started := make(chan struct{})
	err := m.RegisterTool("block", func(ctx context.Context, params map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_stop0001", "block", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	<-started
	m.Stop()

	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeCancelled {
		t.Errorf("code = %q, want CANCELLED", code)
	}
}

// Cancellation during the inter-retry wait also reports CANCELLED; TIMEOUT
// is reserved for a hit deadline.
func TestShutdownDuringRetryWaitCancels(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{
		MaxRetries: 3,
		Sleep: func(ctx context.Context, d time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	m.Start(context.Background())
	attempted := make(chan struct{}, 1)
	err := m.RegisterTool("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return nil, errors.New("transient fault")
	})
	if err != nil {
		t.Fatal(err)
	}

	call := makeCall(t, "exec_stop0002", "flaky", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}
	<-attempted
	m.Stop()

	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", msg["status"])
	}
	if code := errorCode(msg); code != protocol.CodeCancelled {
		t.Errorf("code = %q, want CANCELLED", code)
	}
}

// An inbound partial result carries a payload that must stick to the
// execution, not just its status.
func TestInboundPartialResultRecorded(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	release := make(chan struct{})
	err := m.RegisterTool("slow", func(ctx context.Context, params map[string]any) (any, error) {
		<-release
		return map[string]any{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	call := makeCall(t, "exec_part0001", "slow", nil)
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}

	partial, err := protocol.NewToolResult("remote", "exec_part0001", "slow", protocol.StatusPartial, protocol.ToolResultOptions{
		Result: map[string]any{"progress": 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.HandleToolResult(partial); err != nil {
		t.Fatal(err)
	}

	snapshots := m.ListActive()
	if len(snapshots) != 1 {
		t.Fatalf("active = %d, want 1", len(snapshots))
	}
	if snapshots[0].Status != protocol.StatusPartial {
		t.Errorf("status = %q, want partial", snapshots[0].Status)
	}
	result, _ := snapshots[0].Result.(map[string]any)
	if result["progress"] != 0.5 {
		t.Errorf("result = %v, want recorded progress", snapshots[0].Result)
	}
	close(release)
}

func TestCleanupCancelsStaleExecutions(t *testing.T) {
	var clockMu sync.Mutex
	now := time.Now()
	m, results := newTestManager(t, ManagerOptions{
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return now
		},
	})
	err := m.RegisterTool("slow", func(ctx context.Context, params map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	call := makeCall(t, "exec_stale001", "slow", nil)
	callCtx := map[string]any{"timeout": 1.0}
	call["context"] = callCtx
	if err := m.HandleToolCall(call); err != nil {
		t.Fatal(err)
	}

	// Advance the injected clock past the timeout and force a sweep.
	clockMu.Lock()
	now = now.Add(2 * time.Second)
	clockMu.Unlock()
	m.cleanupStale()

	msg := waitResult(t, results)
	if msg["status"] != protocol.StatusCancelled {
		t.Fatalf("status = %v, want cancelled", msg["status"])
	}
}
