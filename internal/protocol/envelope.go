// Package protocol defines the message envelope shared by every component
// of the fabric, the message type registry, and JSON-schema validation for
// typed payloads.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope field names common to all messages.
const (
	FieldType          = "type"
	FieldTimestamp     = "msg-sent-timestamp"
	FieldSource        = "source"
	FieldCorrelationID = "correlation_id"
	FieldWorkflowID    = "workflow_id"
)

// Registered message type names.
const (
	TypeToolCall       = "tool_call"
	TypeToolResult     = "tool_result"
	TypeAllyIntent     = "ally_intent"
	TypeAllyMemory     = "ally_memory"
	TypeAllyQuery      = "ally_query"
	TypeAllyStatus     = "ally_status"
	TypeNegotiation    = "negotiation"
	TypeQuery          = "query"
	TypeControl        = "control"
	TypeConfigUpdate   = "config_update"
	TypePing           = "ping"
	TypePong           = "pong"
	TypePhysics        = "physics_simulation"
	TypeTradingStream  = "trading_stream"
	TypeError          = "error"
	TypeWarning        = "warning"
	TypeSystemInfo     = "system_info"
	TypeControlResp    = "control_response"
	TypeConfigResp     = "config_response"
	TypeActiveStreams  = "active_streams"
	TypeConnectionInfo = "connection_info"
)

// Tool execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
	StatusPartial   = "partial"
)

// Coded tool and validation errors.
const (
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeDuplicateExecution = "DUPLICATE_EXECUTION"
	CodeTimeout            = "TIMEOUT"
	CodeExecutionFailed    = "EXECUTION_FAILED"
	CodeCancelled          = "CANCELLED"
	CodeHandlerError       = "HANDLER_ERROR"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeMissingType        = "MISSING_TYPE"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeProcessingError    = "PROCESSING_ERROR"
	CodeDeprecatedType     = "DEPRECATED_MESSAGE_TYPE"
)

// WallClockLayout is the legacy human-readable timestamp accepted alongside
// RFC 3339 in msg-sent-timestamp.
const WallClockLayout = "2006-01-02 15:04:05"

// Message is a decoded wire frame. Frames are free-form JSON objects; typed
// payloads are enforced by schema, not by struct shape.
type Message = map[string]any

// ErrorInfo is the coded error carried by error, warning and tool_result
// messages.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Now returns the current wall-clock timestamp in the envelope format.
func Now() string {
	return time.Now().Format(WallClockLayout)
}

// NowUTC returns the current time as RFC 3339 UTC, used by tool messages.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp accepts either RFC 3339 or the legacy wall-clock layout.
func ParseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(WallClockLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	}
	return t, nil
}

// TypeOf extracts the message type, if present.
func TypeOf(msg Message) (string, bool) {
	t, ok := msg[FieldType].(string)
	return t, ok && t != ""
}

// Decode parses a wire frame into a Message.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// ErrorMessage builds an error envelope addressed to a single connection.
func ErrorMessage(code, message string) Message {
	return Message{
		FieldType: TypeError,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
		FieldTimestamp: Now(),
	}
}

// WarningMessage builds a warning envelope addressed to a single connection.
func WarningMessage(code, message string) Message {
	return Message{
		FieldType: TypeWarning,
		"warning": map[string]any{
			"code":    code,
			"message": message,
		},
		FieldTimestamp: Now(),
	}
}
