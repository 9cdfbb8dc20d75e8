package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewExecutionID generates a short unique execution identifier.
func NewExecutionID() string {
	return "exec_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ToolCallOptions carries the optional fields of a tool_call message.
type ToolCallOptions struct {
	ExecutionID    string
	TimeoutSeconds float64
	RetryCount     int
	CorrelationID  string
	WorkflowID     string
	Security       map[string]any
}

// NewToolCall builds and validates a tool_call message. An execution ID is
// generated when the options leave it empty.
func NewToolCall(source, toolName string, parameters map[string]any, opts ToolCallOptions) (Message, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = NewExecutionID()
	}
	msg := Message{
		FieldType:      TypeToolCall,
		FieldSource:    source,
		"tool_name":    toolName,
		"parameters":   parameters,
		"execution_id": executionID,
		FieldTimestamp: NowUTC(),
	}
	if opts.TimeoutSeconds > 0 || opts.RetryCount > 0 {
		callContext := map[string]any{}
		if opts.TimeoutSeconds > 0 {
			callContext["timeout"] = opts.TimeoutSeconds
		}
		if opts.RetryCount > 0 {
			callContext["retry_count"] = opts.RetryCount
		}
		msg["context"] = callContext
	}
	if opts.Security != nil {
		msg["security"] = opts.Security
	}
	if opts.CorrelationID != "" {
		msg[FieldCorrelationID] = opts.CorrelationID
	}
	if opts.WorkflowID != "" {
		msg[FieldWorkflowID] = opts.WorkflowID
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ExecutionInfo summarizes timing and retries for a finished execution.
type ExecutionInfo struct {
	StartTime  string  `json:"start_time,omitempty"`
	EndTime    string  `json:"end_time,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	RetryCount int     `json:"retry_count"`
}

// ToolResultOptions carries the optional fields of a tool_result message.
type ToolResultOptions struct {
	Result        any
	Error         *ErrorInfo
	ExecutionInfo *ExecutionInfo
	CorrelationID string
	WorkflowID    string
}

// NewToolResult builds and validates a tool_result message. Status determines
// which payload field is required: success and partial carry result, error
// carries the coded error.
func NewToolResult(source, executionID, toolName, status string, opts ToolResultOptions) (Message, error) {
	msg := Message{
		FieldType:      TypeToolResult,
		FieldSource:    source,
		"execution_id": executionID,
		"tool_name":    toolName,
		"status":       status,
		FieldTimestamp: NowUTC(),
	}
	switch status {
	case StatusSuccess, StatusPartial:
		result := opts.Result
		if result == nil {
			result = map[string]any{}
		}
		msg["result"] = result
	case StatusError:
		if opts.Error == nil {
			return nil, fmt.Errorf("tool_result with status error requires error info")
		}
		msg["error"] = map[string]any{
			"code":    opts.Error.Code,
			"message": opts.Error.Message,
		}
	case StatusTimeout, StatusCancelled:
		if opts.Error != nil {
			msg["error"] = map[string]any{
				"code":    opts.Error.Code,
				"message": opts.Error.Message,
			}
		}
	default:
		return nil, fmt.Errorf("invalid tool_result status %q", status)
	}
	if opts.ExecutionInfo != nil {
		msg["execution_info"] = map[string]any{
			"start_time":  opts.ExecutionInfo.StartTime,
			"end_time":    opts.ExecutionInfo.EndTime,
			"duration_ms": opts.ExecutionInfo.DurationMs,
			"retry_count": opts.ExecutionInfo.RetryCount,
		}
	}
	if opts.CorrelationID != "" {
		msg[FieldCorrelationID] = opts.CorrelationID
	}
	if opts.WorkflowID != "" {
		msg[FieldWorkflowID] = opts.WorkflowID
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewAllyIntent builds and validates an ally_intent message.
func NewAllyIntent(source, intent string, confidence float64, slots map[string]any) (Message, error) {
	msg := Message{
		FieldType:      TypeAllyIntent,
		FieldSource:    source,
		"intent":       intent,
		"confidence":   confidence,
		FieldTimestamp: NowUTC(),
	}
	if slots != nil {
		msg["slots"] = slots
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewAllyMemory builds and validates an ally_memory message.
func NewAllyMemory(source, action string, content map[string]any) (Message, error) {
	msg := Message{
		FieldType:      TypeAllyMemory,
		FieldSource:    source,
		"action":       action,
		FieldTimestamp: NowUTC(),
	}
	if content != nil {
		msg["content"] = content
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewAllyQuery builds and validates an ally_query message.
func NewAllyQuery(source, queryType string, parameters map[string]any) (Message, error) {
	msg := Message{
		FieldType:      TypeAllyQuery,
		FieldSource:    source,
		"query_type":   queryType,
		FieldTimestamp: NowUTC(),
	}
	if parameters != nil {
		msg["parameters"] = parameters
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewAllyStatus builds and validates an ally_status message.
func NewAllyStatus(source, component, status string, health map[string]any) (Message, error) {
	msg := Message{
		FieldType:      TypeAllyStatus,
		FieldSource:    source,
		"component":    component,
		"status":       status,
		FieldTimestamp: NowUTC(),
	}
	if health != nil {
		msg["health"] = health
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
