// Package dispatch runs one question through the reasoning backend and
// classifies the outcome.
//
// Two dispatchers exist: CLIDispatcher spawns the backend binary per
// question, APIDispatcher calls the Messages API directly. Both are
// stateless per call; concurrent dispatches do not contend.
package dispatch

import (
	"context"
	"sync"
	"time"
)

// Outcome classifies a finished dispatch.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeProcessFailure Outcome = "process_failure"
	OutcomeSpawnError     Outcome = "spawn_error"
)

// Request is one question bound for the backend.
type Request struct {
	// Question is the raw inbound text, passed to the backend verbatim.
	Question string
	// SystemPrompt carries the caller's identity and project context.
	SystemPrompt string
	// ToolConfigPath points at the generated tool-configuration file;
	// empty means no tool config.
	ToolConfigPath string
}

// Result is the classified outcome of one dispatch.
type Result struct {
	Outcome Outcome
	// Text is the trimmed backend answer, set only on OutcomeSuccess.
	Text string
	// ExitCode and Stderr are set on OutcomeProcessFailure.
	ExitCode int
	Stderr   string
	// Err is set on OutcomeSpawnError.
	Err error
}

// Dispatcher runs one request to completion. Implementations must be safe
// for unbounded concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) Result
}

// Active is a point-in-time view of one in-flight dispatch, exposed over the
// status API.
type Active struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Question  string    `json:"question"`
}

// tracker records in-flight dispatches for status reporting. Both
// dispatchers embed one.
type tracker struct {
	mu     sync.RWMutex
	active map[string]Active
}

func newTracker() *tracker {
	return &tracker{active: make(map[string]Active)}
}

func (t *tracker) add(a Active) {
	t.mu.Lock()
	t.active[a.ID] = a
	t.mu.Unlock()
}

func (t *tracker) remove(id string) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}

// ActiveDispatches lists in-flight dispatches in no particular order.
func (t *tracker) ActiveDispatches() []Active {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Active, 0, len(t.active))
	for _, a := range t.active {
		result = append(result, a)
	}
	return result
}
