package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/identity"
)

// StateKeys are the keys a final_state assertion may check.
var StateKeys = []string{
	"channel_id",
	"has_snapshot",
	"named_user_id",
	"named_user_in_sync",
	"pending_channel_tags",
	"pending_named_user_tags",
	"platform_token",
	"scheduled",
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRequestCount:
			err = assertRequestCount(result.Trace, a)
		case AssertRequestOrder:
			err = assertRequestOrder(result.Trace, a)
		case AssertRequestContains:
			err = assertRequestContains(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.Final, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertRequestCount checks that op was requested exactly Count times.
func assertRequestCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Type == EventRequest && e.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests to %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRequestOrder checks that the first request of each op appears in
// the given order. Other requests may come in between.
func assertRequestOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, e := range trace {
		if e.Type != EventRequest {
			continue
		}
		if _, seen := positions[e.Op]; !seen {
			positions[e.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all requests present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing request: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("requests in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRequestContains checks that some request to op carries every
// expected field. The response status can be matched with the "status"
// field.
func assertRequestContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if e.Type == EventRequest && e.Op == a.Op && matchFields(e, a.Fields) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRequestContains,
		Expected: fmt.Sprintf("request %s with %v", a.Op, a.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func matchFields(e TraceEvent, want map[string]string) bool {
	for k, v := range want {
		got := e.Fields[k]
		if k == "status" {
			got = e.Outcome
		}
		if got != v {
			return false
		}
	}
	return true
}

// StateView flattens the final state into the values final_state checks.
func StateView(st app.Status) map[string]any {
	nu := ""
	if st.NamedUser.ID != nil {
		nu = *st.NamedUser.ID
	}
	return map[string]any{
		"channel_id":              st.Channel.ID,
		"has_snapshot":            st.Snapshot != nil,
		"named_user_id":           nu,
		"named_user_in_sync":      st.NamedUser.InSync,
		"pending_channel_tags":    !st.PendingTags[identity.ChannelTags].IsEmpty(),
		"pending_named_user_tags": !st.PendingTags[identity.NamedUserTags].IsEmpty(),
		"platform_token":          st.Platform != nil && st.Platform.HasToken,
		"scheduled":               len(st.Scheduled),
	}
}

// assertFinalState compares the expected values with StateView. Values are
// compared by their printed form so YAML ints and bools match directly.
func assertFinalState(st app.Status, a Assertion) error {
	view := StateView(st)
	var mismatches []string
	for _, k := range StateKeys {
		want, ok := a.Expect[k]
		if !ok {
			continue
		}
		if fmt.Sprint(want) != fmt.Sprint(view[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %v, got %v", k, want, view[k]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}
