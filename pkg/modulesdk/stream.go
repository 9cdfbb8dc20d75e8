package modulesdk

import (
	"sync"
	"time"
)

// Datatype identifies the value type carried by a stream.
type Datatype string

const (
	DatatypeFloat  Datatype = "float"
	DatatypeInt    Datatype = "int"
	DatatypeString Datatype = "string"
	DatatypeBool   Datatype = "bool"
	DatatypeVector Datatype = "vector"
)

// StreamStatus is the reported health of a stream.
type StreamStatus string

const (
	StreamActive   StreamStatus = "active"
	StreamInactive StreamStatus = "inactive"
	StreamError    StreamStatus = "error"
)

// Priority is advisory only; nothing in the fabric schedules on it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// TimestampLayout is the wall-clock format used on the wire for stream and
// module update timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Stream is one named, typed, timestamped value owned by a module.
// Datatype is fixed after creation. Writes set value and timestamp under a
// single lock so readers never observe one without the other.
type Stream struct {
	mu sync.Mutex

	streamID  string
	name      string
	datatype  Datatype
	unit      string
	status    StreamStatus
	metadata  map[string]any
	priority  Priority
	value     any
	updatedAt time.Time
}

// StreamSpec describes a stream at construction time.
type StreamSpec struct {
	StreamID string
	Name     string
	Datatype Datatype
	Unit     string
	Status   StreamStatus
	Metadata map[string]any
	Priority Priority
	Value    any
}

// NewStream creates a stream from a spec. Zero-valued fields get defaults:
// status active, priority normal.
func NewStream(spec StreamSpec) *Stream {
	if spec.Status == "" {
		spec.Status = StreamActive
	}
	if spec.Priority == "" {
		spec.Priority = PriorityNormal
	}
	return &Stream{
		streamID:  spec.StreamID,
		name:      spec.Name,
		datatype:  spec.Datatype,
		unit:      spec.Unit,
		status:    spec.Status,
		metadata:  spec.Metadata,
		priority:  spec.Priority,
		value:     spec.Value,
		updatedAt: time.Now(),
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.streamID }

// Name returns the display name.
func (s *Stream) Name() string { return s.name }

// Datatype returns the fixed value type.
func (s *Stream) Datatype() Datatype { return s.datatype }

// SetValue records a new value. The value and update timestamp change
// together; updated_at never moves backwards.
func (s *Stream) SetValue(value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	if now := time.Now(); now.After(s.updatedAt) {
		s.updatedAt = now
	}
}

// SetStatus updates the stream status.
func (s *Stream) SetStatus(status StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if now := time.Now(); now.After(s.updatedAt) {
		s.updatedAt = now
	}
}

// Value returns the last written value.
func (s *Stream) Value() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// UpdatedAt returns the time of the last write.
func (s *Stream) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Snapshot returns the wire representation of the stream. The returned map
// is a copy; callers may serialize it without further locking.
func (s *Stream) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		metadata[k] = v
	}
	return map[string]any{
		"stream_id":               s.streamID,
		"name":                    s.name,
		"datatype":                string(s.datatype),
		"unit":                    s.unit,
		"status":                  string(s.status),
		"metadata":                metadata,
		"value":                   s.value,
		"priority":                string(s.priority),
		"stream-update-timestamp": s.updatedAt.Format(TimestampLayout),
	}
}
