package tools

import (
	"context"
	"testing"
	"time"

	"github.com/ariesworks/comms/internal/protocol"
)

func TestRouterConsumesToolTypes(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	if err := m.RegisterTool("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{}, nil
	}); err != nil {
		t.Fatal(err)
	}
	r := NewRouter(m, testLogger())

	call := makeCall(t, "exec_route001", "echo", nil)
	if !r.Route(call) {
		t.Fatal("tool_call not consumed")
	}
	waitResult(t, results)

	result, err := protocol.NewToolResult("remote", "exec_ghost002", "echo", protocol.StatusSuccess, protocol.ToolResultOptions{
		Result: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Route(result) {
		t.Error("tool_result not consumed")
	}
}

func TestRouterPassesThroughOtherTypes(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	r := NewRouter(m, testLogger())
	for _, msg := range []protocol.Message{
		{protocol.FieldType: protocol.TypePing},
		{protocol.FieldType: protocol.TypeNegotiation},
		{"payload": 1},
	} {
		if r.Route(msg) {
			t.Errorf("message %v should not be consumed", msg)
		}
	}
}

// A malformed tool_call surfaces as a HANDLER_ERROR result instead of
// silently vanishing.
func TestRouterReportsHandlerError(t *testing.T) {
	m, results := newTestManager(t, ManagerOptions{})
	r := NewRouter(m, testLogger())

	bad := protocol.Message{
		protocol.FieldType:      protocol.TypeToolCall,
		protocol.FieldSource:    "client",
		"tool_name":             "echo",
		"execution_id":          "exec_badcall1",
		protocol.FieldTimestamp: protocol.NowUTC(),
		// parameters missing
	}
	if !r.Route(bad) {
		t.Fatal("malformed tool_call not consumed")
	}
	select {
	case msg := <-results:
		if code := errorCode(msg); code != protocol.CodeHandlerError {
			t.Errorf("code = %q, want HANDLER_ERROR", code)
		}
	case <-time.After(time.Second):
		t.Fatal("no error result emitted")
	}
}
