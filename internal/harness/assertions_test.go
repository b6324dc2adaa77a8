package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventFlow, Name: "connect"},
		{Seq: 2, Type: EventStatus, Name: "Connecting..."},
		{Seq: 3, Type: EventSent, Name: "Connect"},
		{Seq: 4, Type: EventSent, Name: "StatusUpdate", Args: map[string]any{"status": 20}},
		{Seq: 5, Type: EventSent, Name: "LocationChecks", Args: map[string]any{"locations": []int64{100012}}},
		{Seq: 6, Type: EventGranted, Name: "item 0x13"},
		{Seq: 7, Type: EventSent, Name: "LocationChecks", Args: map[string]any{"locations": []int64{200002}}},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Event: "sent:LocationChecks",
		Args:  map[string]any{"locations": []any{200002}},
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NoArgsRequired(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Event: "granted:item 0x13"}))
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Event: "sent:Sync"})
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Equal(t, "sent:Sync", aerr.Expected)
	assert.Equal(t, "not found in trace", aerr.Actual)
}

func TestAssertTraceContains_WrongArgs(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Event: "sent:StatusUpdate",
		Args:  map[string]any{"status": 30},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sent:StatusUpdate with args {"status":30}`)
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		events  []string
		wantErr string
	}{
		{"correct", []string{"flow:connect", "sent:Connect", "granted:item 0x13"}, ""},
		{"intervening events allowed", []string{"status:Connecting...", "sent:LocationChecks"}, ""},
		{"repeated label", []string{"sent:LocationChecks", "granted:item 0x13", "sent:LocationChecks"}, ""},
		{"wrong order", []string{"granted:item 0x13", "sent:Connect"}, "no sent:Connect after the events before it"},
		{"missing event", []string{"sent:Connect", "sent:Sync"}, "no sent:Sync"},
		{"repeat beyond trace", []string{"granted:item 0x13", "granted:item 0x13"}, "no granted:item 0x13"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Events: tt.events})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		event   string
		count   int
		wantErr bool
	}{
		{"sent:LocationChecks", 2, false},
		{"sent:LocationChecks", 1, true},
		{"sent:LocationChecks", 3, true},
		{"sent:Sync", 0, false},
	}

	for _, tt := range tests {
		err := assertTraceCount(sampleTrace(), Assertion{Event: tt.event, Count: tt.count})
		if tt.wantErr {
			require.Error(t, err, "%s x%d", tt.event, tt.count)
			assert.Contains(t, err.Error(), "2 occurrences")
		} else {
			assert.NoError(t, err, "%s x%d", tt.event, tt.count)
		}
	}
}

func TestAssertFinalState(t *testing.T) {
	state := map[string]any{
		"applied_index": int64(1),
		"sent_checks":   []int64{100012, 200002},
		"journal":       []int64{},
		"state":         "connected",
	}

	assert.NoError(t, assertFinalState(state, Assertion{Field: "applied_index", Expect: 1}))
	assert.NoError(t, assertFinalState(state, Assertion{Field: "sent_checks", Expect: []any{100012, 200002}}))
	assert.NoError(t, assertFinalState(state, Assertion{Field: "journal", Expect: []any{}}))
	assert.NoError(t, assertFinalState(state, Assertion{Field: "state", Expect: "connected"}))

	err := assertFinalState(state, Assertion{Field: "applied_index", Expect: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: applied_index = 2")
	assert.Contains(t, err.Error(), "Actual: applied_index = 1")

	err = assertFinalState(state, Assertion{Field: "persisted_index", Expect: 1})
	assert.EqualError(t, err, `final_state: field "persisted_index" was not collected`)
}

func TestMatchArgs_SubsetSemantics(t *testing.T) {
	actual := map[string]any{"locations": []int64{1, 2}, "create_as_hint": 2}

	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"create_as_hint": 2}))
	assert.True(t, matchArgs(actual, map[string]any{"locations": []any{1, 2}, "create_as_hint": 2}))
	assert.False(t, matchArgs(actual, map[string]any{"locations": []any{2, 1}}))
	assert.False(t, matchArgs(actual, map[string]any{"status": 20}))
	assert.False(t, matchArgs(nil, map[string]any{"status": 20}))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int64 and int", int64(5), 5, true},
		{"slice types", []int64{1, 2}, []any{1, 2}, true},
		{"empty slices", []int64{}, []any{}, true},
		{"nil slice is not empty", []int64(nil), []any{}, false},
		{"strings", "Connected", "Connected", true},
		{"string and number", "1", 1, false},
		{"bools", true, true, true},
		{"nil", nil, nil, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{
		Trace: sampleTrace(),
		State: map[string]any{"pending_rewards": 0},
	}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: "sent:Connect"},
		{Type: AssertTraceCount, Event: "sent:Sync", Count: 1},
		{Type: AssertFinalState, Field: "pending_rewards", Expect: 0},
		{Type: "bogus"},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "1 occurrences of sent:Sync")
	assert.Contains(t, errs[1], `assertion[3]: unknown assertion type "bogus"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of sent:Sync",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[3:5],
	}

	want := "Assertion failed: trace_count\n" +
		"  Expected: 1 occurrences of sent:Sync\n" +
		"  Actual: 0 occurrences\n" +
		"\nFull trace:\n" +
		"  [4] sent:StatusUpdate {\"status\":20}\n" +
		"  [5] sent:LocationChecks {\"locations\":[100012]}\n"
	assert.Equal(t, want, err.Error())
}
