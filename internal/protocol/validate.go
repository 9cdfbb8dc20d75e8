package protocol

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce     sync.Once
	schemaCompiled map[string]*jsonschema.Schema
	schemaErr      error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		sources := map[string]string{
			TypeToolCall:   toolCallSchema,
			TypeToolResult: toolResultSchema,
			TypeAllyIntent: allyIntentSchema,
			TypeAllyMemory: allyMemorySchema,
			TypeAllyQuery:  allyQuerySchema,
			TypeAllyStatus: allyStatusSchema,
		}
		schemaCompiled = make(map[string]*jsonschema.Schema, len(sources))
		for name, src := range sources {
			compiler := jsonschema.NewCompiler()
			compiler.Draft = jsonschema.Draft7
			url := fmt.Sprintf("inline://%s.schema.json", name)
			if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			schemaCompiled[name] = schema
		}
	})
	return schemaCompiled, schemaErr
}

// HasSchema reports whether a message type carries an embedded schema.
func HasSchema(messageType string) bool {
	schemas, err := compiledSchemas()
	if err != nil {
		return false
	}
	_, ok := schemas[messageType]
	return ok
}

// Validate checks a message against the embedded schema for its type. Types
// without a schema pass; envelope-only types are validated structurally by
// their handlers.
func Validate(msg Message) error {
	t, ok := TypeOf(msg)
	if !ok {
		return fmt.Errorf("message missing 'type' field")
	}
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[t]
	if !ok {
		return nil
	}
	if err := schema.Validate(map[string]any(msg)); err != nil {
		return fmt.Errorf("%s validation: %w", t, err)
	}
	return nil
}
