package tools

import (
	"log/slog"

	"github.com/ariesworks/comms/internal/protocol"
)

// Router steers tool messages between the broker and the execution manager.
// Non-tool types are returned to the caller's default routing.
type Router struct {
	manager *Manager
	logger  *slog.Logger
}

// NewRouter wraps a manager for broker-side dispatch.
func NewRouter(manager *Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		manager: manager,
		logger:  logger.With("component", "tool_router"),
	}
}

// Route handles tool_call and tool_result messages, reporting true when the
// message was consumed. Failures before an execution exists surface as
// HANDLER_ERROR results addressed back through the manager's publisher.
func (r *Router) Route(msg protocol.Message) bool {
	messageType, ok := protocol.TypeOf(msg)
	if !ok {
		return false
	}
	switch messageType {
	case protocol.TypeToolCall:
		if err := r.manager.HandleToolCall(msg); err != nil {
			r.logger.Error("tool_call handling failed", "error", err)
			executionID, _ := msg["execution_id"].(string)
			toolName, _ := msg["tool_name"].(string)
			if executionID == "" {
				executionID = protocol.NewExecutionID()
			}
			if toolName == "" {
				toolName = "unknown"
			}
			r.manager.publishError(executionID, toolName, "", "", protocol.ErrorInfo{
				Code:    protocol.CodeHandlerError,
				Message: err.Error(),
			}, nil)
		}
		return true
	case protocol.TypeToolResult:
		if err := r.manager.HandleToolResult(msg); err != nil {
			r.logger.Warn("tool_result rejected", "error", err)
		}
		return true
	}
	return false
}
