package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/regsync/internal/app"
)

// Trace event types.
const (
	EventStep      = "step"
	EventRequest   = "request"
	EventPlatform  = "platform"
	EventFinished  = "finished"
	EventScheduled = "scheduled"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Type string `json:"type"`
	// Step is the 1-based step that caused the event.
	Step int `json:"step"`
	// Op is the step label, directory operation or scheduled action.
	Op string `json:"op"`
	// Fields are the event's attributes, rendered in key order.
	Fields map[string]string `json:"fields,omitempty"`
	// Outcome is the response status, "transport error", or the
	// registration outcome.
	Outcome string `json:"outcome,omitempty"`
}

// String renders the event as one trace line.
func (e TraceEvent) String() string {
	var b strings.Builder
	switch e.Type {
	case EventStep:
		fmt.Fprintf(&b, "[%d] %s", e.Step, e.Op)
	default:
		fmt.Fprintf(&b, "    %s %s", e.Type, e.Op)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Fields[k])
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, " -> %s", e.Outcome)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// Final is the persisted state after the last step.
	Final app.Status `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requests returns the request events in order.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventRequest {
			out = append(out, e)
		}
	}
	return out
}

// FormatTrace renders the trace as text, one event per line.
func FormatTrace(name string, trace []TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, e := range trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
