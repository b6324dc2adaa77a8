package harness

import (
	"fmt"
	"sync"
)

// Trace event types.
const (
	EventFlow    = "flow"    // a scenario flow step started
	EventSent    = "sent"    // the client sent a packet
	EventGranted = "granted" // the sink applied a reward
	EventRefused = "refused" // the sink rejected a reward
	EventStatus  = "status"  // the connection status line changed
	EventScouted = "scouted" // a scout returned an item
)

// TraceEvent is one observable client action.
type TraceEvent struct {
	Seq  int64          `json:"seq"`
	Type string         `json:"type"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Label is the "type:name" form used by trace assertions.
func (e TraceEvent) Label() string { return e.Type + ":" + e.Name }

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in the order it happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final_state values, keyed by field name.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// tracer appends events to a Result. Transport and sink wrappers call it
// from inside engine callbacks, so it locks.
type tracer struct {
	mu     sync.Mutex
	result *Result
	seq    int64
	status string
}

func (t *tracer) add(typ, name string, args map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.result.Trace = append(t.result.Trace, TraceEvent{Seq: t.seq, Type: typ, Name: name, Args: args})
}

func (t *tracer) flow(name string, args map[string]any) { t.add(EventFlow, name, args) }

// observe records status when it differs from the last one seen.
func (t *tracer) observe(status string) {
	t.mu.Lock()
	changed := status != t.status
	t.status = status
	t.mu.Unlock()
	if changed {
		t.add(EventStatus, status, nil)
	}
}

// traceSink is a rewards.Sink that records each grant. The grant whose
// description equals fail is rejected.
type traceSink struct {
	trace *tracer
	fail  string
}

func (s *traceSink) record(call string) error {
	if s.fail != "" && call == s.fail {
		s.trace.add(EventRefused, call, nil)
		return fmt.Errorf("sink refused %s", call)
	}
	s.trace.add(EventGranted, call, nil)
	return nil
}

func (s *traceSink) GrantItem(item uint8) error { return s.record(fmt.Sprintf("item 0x%02X", item)) }
func (s *traceSink) GrantBrush(index int) error { return s.record(fmt.Sprintf("brush %d", index)) }

func (s *traceSink) GrantProgressiveBrush(index int, upgrades []uint32) error {
	return s.record(fmt.Sprintf("progressive brush %d", index))
}

func (s *traceSink) SetFlag(accessor string, bit uint32) error {
	return s.record(fmt.Sprintf("flag %s:%d", accessor, bit))
}

func (s *traceSink) GrantProgressiveWeapon(stages []uint8) error {
	return s.record(fmt.Sprintf("progressive weapon %v", stages))
}

func (s *traceSink) Filler(message string) error { return s.record("filler " + message) }
