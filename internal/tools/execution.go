// Package tools implements the schema-validated tool execution framework:
// executor registration, execution lifecycle with timeout and retry, and
// routing of tool messages between the broker and the manager.
package tools

import (
	"context"
	"sync"
	"time"

	"github.com/ariesworks/comms/internal/protocol"
)

// Executor runs a tool. The context carries the effective execution timeout
// and is cancelled when the execution is cancelled.
type Executor func(ctx context.Context, params map[string]any) (any, error)

// Execution tracks one tool invocation from acceptance to terminal result.
type Execution struct {
	mu sync.Mutex

	ID            string
	ToolName      string
	Source        string
	Parameters    map[string]any
	CorrelationID string
	WorkflowID    string

	status     string
	startedAt  time.Time
	finishedAt time.Time
	retryCount int
	maxRetries int
	timeout    time.Duration
	cancel     func()
	// result and errInfo hold the latest payload reported for this
	// execution, including partial results from remote executors.
	result  any
	errInfo any
	// delivered flips once, when the terminal result is emitted.
	delivered bool
}

func (e *Execution) setStatus(status string) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

// Status returns the current lifecycle status.
func (e *Execution) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RetryCount returns how many retries have been attempted so far.
func (e *Execution) RetryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount
}

func (e *Execution) bumpRetry() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryCount++
	return e.retryCount
}

// recordResult applies a reported status and payload. Absent payload fields
// leave the previous values in place so a terminal frame without a result
// does not erase an earlier partial one.
func (e *Execution) recordResult(status string, result, errInfo any) {
	e.mu.Lock()
	e.status = status
	if result != nil {
		e.result = result
	}
	if errInfo != nil {
		e.errInfo = errInfo
	}
	e.mu.Unlock()
}

// markDelivered reports whether this call won the right to deliver the
// terminal result. At most one caller ever gets true.
func (e *Execution) markDelivered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.delivered {
		return false
	}
	e.delivered = true
	return true
}

// Snapshot describes an execution for status listings.
type Snapshot struct {
	ExecutionID string  `json:"execution_id"`
	ToolName    string  `json:"tool_name"`
	Source      string  `json:"source"`
	Status      string  `json:"status"`
	StartTime   string  `json:"start_time"`
	ElapsedMs   float64 `json:"elapsed_ms"`
	RetryCount  int     `json:"retry_count"`
	Result      any     `json:"result,omitempty"`
	Error       any     `json:"error,omitempty"`
}

func (e *Execution) snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ExecutionID: e.ID,
		ToolName:    e.ToolName,
		Source:      e.Source,
		Status:      e.status,
		StartTime:   e.startedAt.UTC().Format(time.RFC3339Nano),
		ElapsedMs:   float64(now.Sub(e.startedAt)) / float64(time.Millisecond),
		RetryCount:  e.retryCount,
		Result:      e.result,
		Error:       e.errInfo,
	}
}

func (e *Execution) executionInfo() *protocol.ExecutionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := e.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return &protocol.ExecutionInfo{
		StartTime:  e.startedAt.UTC().Format(time.RFC3339Nano),
		EndTime:    end.UTC().Format(time.RFC3339Nano),
		DurationMs: float64(end.Sub(e.startedAt)) / float64(time.Millisecond),
		RetryCount: e.retryCount,
	}
}
