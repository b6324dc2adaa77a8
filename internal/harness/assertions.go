package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion. Trace, when set, is printed
// after the expectation so the failing run can be read in place.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	b.WriteString("Assertion failed: " + e.Type + "\n")
	b.WriteString("  Expected: " + e.Expected + "\n")
	b.WriteString("  Actual: " + e.Actual + "\n")
	if len(e.Trace) == 0 {
		return b.String()
	}

	b.WriteString("\nFull trace:\n")
	for _, ev := range e.Trace {
		line := fmt.Sprintf("  [%d] %s", ev.Seq, ev.Label())
		if ev.Args != nil {
			line += " " + encode(ev.Args)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Label() == a.Event && matchArgs(ev.Args, a.Args) {
			return nil
		}
	}

	want := a.Event
	if len(a.Args) > 0 {
		want += " with args " + encode(a.Args)
	}
	return &AssertionError{Type: AssertTraceContains, Expected: want, Actual: "not found in trace", Trace: trace}
}

// assertTraceOrder scans forward once: each label must appear after the
// match for the label before it. Gaps are allowed and labels may repeat.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, want := range a.Events {
		i := indexOf(trace[next:], want)
		if i < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("no %s after the events before it", want),
				Trace:    trace,
			}
		}
		next += i + 1
	}
	return nil
}

func indexOf(trace []TraceEvent, label string) int {
	for i, ev := range trace {
		if ev.Label() == label {
			return i
		}
	}
	return -1
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Label() == a.Event {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
		Actual:   fmt.Sprintf("%d occurrences", n),
		Trace:    trace,
	}
}

func assertFinalState(state map[string]any, a Assertion) error {
	got, ok := state[a.Field]
	if !ok {
		return fmt.Errorf("final_state: field %q was not collected", a.Field)
	}
	if valuesEqual(got, a.Expect) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: a.Field + " = " + encode(a.Expect),
		Actual:   a.Field + " = " + encode(got),
	}
}

// matchArgs reports whether every expected key is present in actual with an
// equal value.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares JSON encodings, so YAML's int and []any match the
// engine's int64 and []int64.
func valuesEqual(actual, expected any) bool {
	a, err := json.Marshal(actual)
	if err != nil {
		return false
	}
	e, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// EvaluateAssertions returns one message per failed assertion, in order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
