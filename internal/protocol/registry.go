package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Category groups message types for organization.
type Category string

const (
	CategoryToolExecution Category = "tool_execution"
	CategoryCognitive     Category = "cognitive"
	CategorySystem        Category = "system"
	CategoryLegacy        Category = "legacy"
)

// TypePriority is the advisory priority of a message type.
type TypePriority string

const (
	PriorityLow      TypePriority = "low"
	PriorityNormal   TypePriority = "normal"
	PriorityHigh     TypePriority = "high"
	PriorityCritical TypePriority = "critical"
)

// TypeInfo describes a registered message type.
type TypeInfo struct {
	Type             string
	Category         Category
	Description      string
	SchemaVersion    string
	Priority         TypePriority
	RequiresResponse bool
	// TimeoutSeconds is the default response timeout; zero means none.
	TimeoutSeconds float64
	Deprecated     bool
	// ReplacementType names the successor of a deprecated type.
	ReplacementType string
}

// Handler processes a dispatched message.
type Handler func(msg Message)

// Middleware wraps message dispatch. A middleware may short-circuit by not
// calling next.
type Middleware func(msg Message, next func(Message))

// Registry tracks message types, their handlers, and dispatch middleware.
// The zero value is not usable; NewRegistry seeds the core protocol types.
type Registry struct {
	mu         sync.RWMutex
	types      map[string]TypeInfo
	handlers   map[string][]Handler
	middleware []Middleware
}

// NewRegistry creates a registry preloaded with the core message types.
func NewRegistry() *Registry {
	r := &Registry{
		types:    make(map[string]TypeInfo),
		handlers: make(map[string][]Handler),
	}
	core := []TypeInfo{
		{Type: TypeToolCall, Category: CategoryToolExecution, Description: "Request to execute a tool with specified parameters", SchemaVersion: "1.0", Priority: PriorityNormal, RequiresResponse: true, TimeoutSeconds: 300},
		{Type: TypeToolResult, Category: CategoryToolExecution, Description: "Result of tool execution with status and output", SchemaVersion: "1.0", Priority: PriorityNormal},
		{Type: TypeAllyIntent, Category: CategoryCognitive, Description: "Cognitive intent extracted from user input", SchemaVersion: "1.0", Priority: PriorityNormal, RequiresResponse: true, TimeoutSeconds: 30},
		{Type: TypeAllyMemory, Category: CategoryCognitive, Description: "Memory storage and retrieval operations", SchemaVersion: "1.0", Priority: PriorityNormal, RequiresResponse: true, TimeoutSeconds: 10},
		{Type: TypeAllyQuery, Category: CategoryCognitive, Description: "System queries for status and information", SchemaVersion: "1.0", Priority: PriorityNormal, RequiresResponse: true, TimeoutSeconds: 5},
		{Type: TypeAllyStatus, Category: CategoryCognitive, Description: "System status and health information", SchemaVersion: "1.0", Priority: PriorityNormal},
		{Type: TypeNegotiation, Category: CategoryLegacy, Description: "Stream negotiation snapshot", SchemaVersion: "legacy", Priority: PriorityNormal},
		{Type: TypeQuery, Category: CategoryLegacy, Description: "Legacy query message", SchemaVersion: "legacy", Priority: PriorityNormal, RequiresResponse: true, Deprecated: true, ReplacementType: TypeAllyQuery},
	}
	for _, info := range core {
		if err := r.RegisterType(info); err != nil {
			// Core types are distinct by construction.
			panic(err)
		}
	}
	return r
}

// RegisterType adds a message type. Registering an existing type fails.
func (r *Registry) RegisterType(info TypeInfo) error {
	if info.Type == "" {
		return fmt.Errorf("message type name is required")
	}
	if info.Priority == "" {
		info.Priority = PriorityNormal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[info.Type]; ok {
		return fmt.Errorf("message type %q already registered", info.Type)
	}
	r.types[info.Type] = info
	r.handlers[info.Type] = nil
	return nil
}

// UnregisterType removes a message type and its handlers.
func (r *Registry) UnregisterType(messageType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[messageType]; !ok {
		return fmt.Errorf("message type %q not registered", messageType)
	}
	delete(r.types, messageType)
	delete(r.handlers, messageType)
	return nil
}

// RegisterHandler appends a handler for a registered type.
func (r *Registry) RegisterHandler(messageType string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler for %q is nil", messageType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[messageType]; !ok {
		return fmt.Errorf("cannot register handler for unknown message type %q", messageType)
	}
	r.handlers[messageType] = append(r.handlers[messageType], handler)
	return nil
}

// Handlers returns the handlers registered for a type.
func (r *Registry) Handlers(messageType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, len(r.handlers[messageType]))
	copy(out, r.handlers[messageType])
	return out
}

// Use appends dispatch middleware. Middleware runs in registration order,
// outermost first.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Dispatch runs the middleware chain around the type's handlers. A
// middleware that does not call next short-circuits the message.
func (r *Registry) Dispatch(msg Message) {
	r.mu.RLock()
	chain := make([]Middleware, len(r.middleware))
	copy(chain, r.middleware)
	r.mu.RUnlock()

	final := func(m Message) {
		t, ok := TypeOf(m)
		if !ok {
			return
		}
		for _, h := range r.Handlers(t) {
			h(m)
		}
	}

	next := final
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		inner := next
		next = func(m Message) {
			mw(m, inner)
		}
	}
	next(msg)
}

// TypeInfoFor returns the registered info for a message type.
func (r *Registry) TypeInfoFor(messageType string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[messageType]
	return info, ok
}

// IsRegistered reports whether a type is known.
func (r *Registry) IsRegistered(messageType string) bool {
	_, ok := r.TypeInfoFor(messageType)
	return ok
}

// IsDeprecated reports whether a type is registered and deprecated.
func (r *Registry) IsDeprecated(messageType string) bool {
	info, ok := r.TypeInfoFor(messageType)
	return ok && info.Deprecated
}

// ReplacementFor returns the replacement of a deprecated type.
func (r *Registry) ReplacementFor(messageType string) string {
	info, ok := r.TypeInfoFor(messageType)
	if !ok || !info.Deprecated {
		return ""
	}
	return info.ReplacementType
}

// ListTypes returns the sorted names of all registered types.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateType checks that a message carries a registered type. The second
// return is a human-readable reason when validation fails. Deprecated types
// pass; DeprecationWarning surfaces the advisory text.
func (r *Registry) ValidateType(msg Message) (bool, string) {
	t, ok := TypeOf(msg)
	if !ok {
		return false, "message missing 'type' field"
	}
	if !r.IsRegistered(t) {
		return false, fmt.Sprintf("unknown message type: %s", t)
	}
	return true, ""
}

// DeprecationWarning returns the advisory for a deprecated type, naming the
// replacement when one is registered.
func (r *Registry) DeprecationWarning(messageType string) (string, bool) {
	info, ok := r.TypeInfoFor(messageType)
	if !ok || !info.Deprecated {
		return "", false
	}
	warning := fmt.Sprintf("message type %q is deprecated", messageType)
	if info.ReplacementType != "" {
		warning += fmt.Sprintf(", use %q instead", info.ReplacementType)
	}
	return warning, true
}

// Statistics summarizes the registry contents.
type Statistics struct {
	TotalTypes      int            `json:"total_types"`
	TotalHandlers   int            `json:"total_handlers"`
	MiddlewareCount int            `json:"middleware_count"`
	ByCategory      map[string]int `json:"by_category"`
	DeprecatedCount int            `json:"deprecated_count"`
}

// Stats returns counts by category and deprecation.
func (r *Registry) Stats() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Statistics{
		TotalTypes:      len(r.types),
		MiddlewareCount: len(r.middleware),
		ByCategory:      make(map[string]int),
	}
	for _, handlers := range r.handlers {
		stats.TotalHandlers += len(handlers)
	}
	for _, info := range r.types {
		stats.ByCategory[string(info.Category)]++
		if info.Deprecated {
			stats.DeprecatedCount++
		}
	}
	return stats
}
