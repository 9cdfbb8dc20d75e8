package protocol

import (
	"testing"
)

func validToolCall() Message {
	return Message{
		FieldType:      TypeToolCall,
		FieldSource:    "cognition",
		"tool_name":    "set_stream_value",
		"parameters":   map[string]any{"stream_id": "temp1", "value": 21.5},
		"execution_id": "exec_ab12cd34",
		FieldTimestamp: "2026-08-24T10:00:00Z",
	}
}

func TestHasSchema(t *testing.T) {
	for _, typ := range []string{TypeToolCall, TypeToolResult, TypeAllyIntent, TypeAllyMemory, TypeAllyQuery, TypeAllyStatus} {
		if !HasSchema(typ) {
			t.Errorf("no schema for %q", typ)
		}
	}
	if HasSchema(TypeNegotiation) {
		t.Error("negotiation should be schema-free")
	}
}

func TestValidateToolCall(t *testing.T) {
	if err := Validate(validToolCall()); err != nil {
		t.Fatalf("valid tool_call rejected: %v", err)
	}

	for _, missing := range []string{"source", "tool_name", "parameters", "execution_id", FieldTimestamp} {
		msg := validToolCall()
		delete(msg, missing)
		if err := Validate(msg); err == nil {
			t.Errorf("tool_call without %q accepted", missing)
		}
	}

	msg := validToolCall()
	msg["parameters"] = "not an object"
	if err := Validate(msg); err == nil {
		t.Error("tool_call with string parameters accepted")
	}

	msg = validToolCall()
	msg["context"] = map[string]any{"timeout": -1.0}
	if err := Validate(msg); err == nil {
		t.Error("tool_call with negative timeout accepted")
	}
}

func TestValidateToolResultStatusPayloadCoupling(t *testing.T) {
	base := func(status string) Message {
		return Message{
			FieldType:      TypeToolResult,
			FieldSource:    "tools",
			"execution_id": "exec_ab12cd34",
			"tool_name":    "set_stream_value",
			"status":       status,
			FieldTimestamp: "2026-08-24T10:00:01Z",
		}
	}

	msg := base(StatusSuccess)
	msg["result"] = map[string]any{"ok": true}
	if err := Validate(msg); err != nil {
		t.Errorf("success with result rejected: %v", err)
	}

	if err := Validate(base(StatusSuccess)); err == nil {
		t.Error("success without result accepted")
	}

	msg = base(StatusSuccess)
	msg["result"] = map[string]any{}
	msg["error"] = map[string]any{"code": CodeExecutionFailed, "message": "boom"}
	if err := Validate(msg); err == nil {
		t.Error("success carrying error accepted")
	}

	msg = base(StatusError)
	msg["error"] = map[string]any{"code": CodeToolNotFound, "message": "no such tool"}
	if err := Validate(msg); err != nil {
		t.Errorf("error with coded error rejected: %v", err)
	}

	if err := Validate(base(StatusError)); err == nil {
		t.Error("error without error info accepted")
	}

	msg = base("exploded")
	if err := Validate(msg); err == nil {
		t.Error("unknown status accepted")
	}

	// Timeout and cancelled are terminal without a payload requirement.
	if err := Validate(base(StatusTimeout)); err != nil {
		t.Errorf("timeout rejected: %v", err)
	}
	if err := Validate(base(StatusCancelled)); err != nil {
		t.Errorf("cancelled rejected: %v", err)
	}
}

func TestValidateAllyIntentConfidenceRange(t *testing.T) {
	msg := Message{
		FieldType:      TypeAllyIntent,
		FieldSource:    "nlu",
		"intent":       "adjust_setpoint",
		"confidence":   0.92,
		FieldTimestamp: "2026-08-24T10:00:00Z",
	}
	if err := Validate(msg); err != nil {
		t.Fatalf("valid ally_intent rejected: %v", err)
	}
	msg["confidence"] = 1.5
	if err := Validate(msg); err == nil {
		t.Error("confidence above 1 accepted")
	}
}

func TestValidateUnschematizedTypesPass(t *testing.T) {
	for _, typ := range []string{TypePing, TypePong, TypeNegotiation, TypeControl} {
		if err := Validate(Message{FieldType: typ}); err != nil {
			t.Errorf("type %q without schema should pass, got %v", typ, err)
		}
	}
	if err := Validate(Message{}); err == nil {
		t.Error("message without type accepted")
	}
}

// Validation must be deterministic for identical input.
func TestValidateDeterministic(t *testing.T) {
	good := validToolCall()
	bad := validToolCall()
	delete(bad, "tool_name")
	for i := 0; i < 50; i++ {
		if err := Validate(good); err != nil {
			t.Fatalf("iteration %d: valid message rejected: %v", i, err)
		}
		if err := Validate(bad); err == nil {
			t.Fatalf("iteration %d: invalid message accepted", i)
		}
	}
}
