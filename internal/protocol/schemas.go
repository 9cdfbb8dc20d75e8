package protocol

const toolCallSchema = `{
  "type": "object",
  "required": ["type", "source", "tool_name", "parameters", "execution_id", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "tool_call" },
    "source": { "type": "string", "minLength": 1 },
    "tool_name": { "type": "string", "minLength": 1 },
    "parameters": { "type": "object" },
    "execution_id": { "type": "string", "minLength": 1 },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 },
    "context": {
      "type": "object",
      "properties": {
        "timeout": { "type": "number", "exclusiveMinimum": 0 },
        "retry_count": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": true
    },
    "security": { "type": "object" },
    "correlation_id": { "type": "string" },
    "workflow_id": { "type": "string" }
  },
  "additionalProperties": true
}`

const toolResultSchema = `{
  "type": "object",
  "required": ["type", "execution_id", "tool_name", "status", "source", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "tool_result" },
    "execution_id": { "type": "string", "minLength": 1 },
    "tool_name": { "type": "string", "minLength": 1 },
    "status": { "enum": ["success", "error", "timeout", "cancelled", "partial"] },
    "source": { "type": "string", "minLength": 1 },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 },
    "result": {},
    "error": {
      "type": "object",
      "required": ["code", "message"],
      "properties": {
        "code": { "type": "string", "minLength": 1 },
        "message": { "type": "string" }
      },
      "additionalProperties": true
    },
    "execution_info": {
      "type": "object",
      "properties": {
        "start_time": { "type": "string" },
        "end_time": { "type": "string" },
        "duration_ms": { "type": "number" },
        "retry_count": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": true
    },
    "correlation_id": { "type": "string" },
    "workflow_id": { "type": "string" },
    "next_actions": { "type": "array" }
  },
  "allOf": [
    {
      "if": { "properties": { "status": { "enum": ["success", "partial"] } } },
      "then": { "required": ["result"] }
    },
    {
      "if": { "properties": { "status": { "const": "error" } } },
      "then": { "required": ["error"] }
    },
    {
      "if": { "properties": { "status": { "enum": ["success", "partial"] } } },
      "then": { "not": { "required": ["error"] } }
    },
    {
      "if": { "properties": { "status": { "const": "error" } } },
      "then": { "not": { "required": ["result"] } }
    }
  ]
}`

const allyIntentSchema = `{
  "type": "object",
  "required": ["type", "source", "intent", "confidence", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "ally_intent" },
    "source": { "type": "string", "minLength": 1 },
    "intent": { "type": "string", "minLength": 1 },
    "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
    "priority": { "enum": ["low", "normal", "high", "critical"] },
    "requires_confirmation": { "type": "boolean" },
    "safety_classification": { "type": "string" },
    "slots": { "type": "object" },
    "context": { "type": "object" },
    "alternatives": { "type": "array" },
    "correlation_id": { "type": "string" },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const allyMemorySchema = `{
  "type": "object",
  "required": ["type", "source", "action", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "ally_memory" },
    "source": { "type": "string", "minLength": 1 },
    "action": { "enum": ["store", "retrieve", "update", "delete", "search"] },
    "memory_type": { "type": "string" },
    "memory_id": { "type": "string" },
    "content": { "type": "object" },
    "query": { "type": "object" },
    "results": { "type": "array" },
    "context": { "type": "object" },
    "correlation_id": { "type": "string" },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const allyQuerySchema = `{
  "type": "object",
  "required": ["type", "source", "query_type", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "ally_query" },
    "source": { "type": "string", "minLength": 1 },
    "query_type": { "type": "string", "minLength": 1 },
    "parameters": { "type": "object" },
    "response_data": { "type": "object" },
    "context": { "type": "object" },
    "correlation_id": { "type": "string" },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const allyStatusSchema = `{
  "type": "object",
  "required": ["type", "source", "component", "status", "msg-sent-timestamp"],
  "properties": {
    "type": { "const": "ally_status" },
    "source": { "type": "string", "minLength": 1 },
    "component": { "type": "string", "minLength": 1 },
    "status": { "type": "string", "minLength": 1 },
    "health": { "type": "object" },
    "capabilities": { "type": "array", "items": { "type": "string" } },
    "configuration": { "type": "object" },
    "dependencies": { "type": "array" },
    "alerts": { "type": "array" },
    "context": { "type": "object" },
    "correlation_id": { "type": "string" },
    "msg-sent-timestamp": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
