package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
client:
  slot: Amaterasu
  client_version: "1.2.0"
  auto_reconnect: true
  fail_grant: "brush 0"
store:
  seed: "4242"
  item_index: 3
  sent_checks: [100012, 200002]
connections:
  - steps:
      - room_info: {seed: "4242"}
      - connected:
          slot: 1
          checked: [100001]
          slot_data: {supported_client_version: "1.2.0"}
      - items: {index: 0, items: [0x13, 0x100]}
      - idle: true
      - close: true
  - steps:
      - error: "dial tcp: connection refused"
flow:
  - connect: true
  - pump: 3
  - advance: 1500ms
  - gameplay: true
  - check: [100012]
  - scout: {locations: [100013], hint: true, timeout: 50ms}
assertions:
  - type: trace_contains
    event: sent:LocationChecks
    args: {locations: [100012]}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, ClientConfig{Slot: "Amaterasu", ClientVersion: "1.2.0", AutoReconnect: true, FailGrant: "brush 0"}, scenario.Client)
	require.NotNil(t, scenario.Store)
	assert.Equal(t, int64(3), *scenario.Store.ItemIndex)
	assert.Equal(t, []int64{100012, 200002}, scenario.Store.SentChecks)

	require.Len(t, scenario.Connections, 2)
	steps := scenario.Connections[0].Steps
	require.Len(t, steps, 5)
	assert.Equal(t, "4242", steps[0].RoomInfo.Seed)
	assert.Equal(t, []int64{100001}, steps[1].Connected.Checked)
	assert.Equal(t, "1.2.0", steps[1].Connected.SlotData["supported_client_version"])
	assert.Equal(t, []int64{0x13, 0x100}, steps[2].Items.Items)
	assert.True(t, steps[3].Idle)
	assert.True(t, steps[4].Close)
	assert.Equal(t, "dial tcp: connection refused", scenario.Connections[1].Steps[0].Error)

	require.Len(t, scenario.Flow, 6)
	assert.True(t, scenario.Flow[0].Connect)
	assert.Equal(t, 3, scenario.Flow[1].Pump)
	assert.Equal(t, 1500*time.Millisecond, scenario.Flow[2].Advance)
	assert.True(t, *scenario.Flow[3].Gameplay)
	assert.Equal(t, []int64{100012}, scenario.Flow[4].Check)
	assert.Equal(t, &ScoutStep{Locations: []int64{100013}, Hint: true, Timeout: 50 * time.Millisecond}, scenario.Flow[5].Scout)

	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "sent:LocationChecks", scenario.Assertions[0].Event)
	assert.Equal(t, []any{100012}, scenario.Assertions[0].Args["locations"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	const flow = "flow:\n  - connect: true\n"
	const asserts = "assertions:\n  - type: trace_count\n    event: sent:Connect\n    count: 1\n"

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\n" + flow + asserts,
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\n" + flow + asserts,
			wantErr: "description is required",
		},
		{
			name:    "missing flow",
			content: "name: n\ndescription: d\n" + asserts,
			wantErr: "flow list is required",
		},
		{
			name:    "missing assertions",
			content: "name: n\ndescription: d\n" + flow,
			wantErr: "assertions list is required",
		},
		{
			name:    "store without seed",
			content: "name: n\ndescription: d\nstore:\n  item_index: 2\n" + flow + asserts,
			wantErr: "store: seed is required",
		},
		{
			name:    "flow step with two actions",
			content: "name: n\ndescription: d\nflow:\n  - connect: true\n    pump: 2\n" + asserts,
			wantErr: "flow[0]: exactly one action is required, got 2",
		},
		{
			name:    "empty flow step",
			content: "name: n\ndescription: d\nflow:\n  - connect: false\n" + asserts,
			wantErr: "flow[0]: exactly one action is required, got 0",
		},
		{
			name:    "scout without locations",
			content: "name: n\ndescription: d\nflow:\n  - scout: {hint: true}\n" + asserts,
			wantErr: "flow[0].scout: locations are required",
		},
		{
			name: "server step with two actions",
			content: "name: n\ndescription: d\nconnections:\n  - steps:\n      - close: true\n        idle: true\n" +
				flow + asserts,
			wantErr: "connections[0].steps[0]: exactly one action is required, got 2",
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nflow:\n  - invoke: Cart.addItem\n" + asserts,
			wantErr: "field invoke not found",
		},
		{
			name:    "malformed yaml",
			content: "name: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_AssertionValidation(t *testing.T) {
	const head = "name: n\ndescription: d\nflow:\n  - connect: true\nassertions:\n"

	tests := []struct {
		name      string
		assertion string
		wantErr   string
	}{
		{"missing type", "  - event: sent:Connect\n", "type is required"},
		{"unknown type", "  - type: eventually\n", `unknown assertion type "eventually"`},
		{"contains without event", "  - type: trace_contains\n", "event is required for trace_contains"},
		{"order without events", "  - type: trace_order\n", "events list is required for trace_order"},
		{"count without event", "  - type: trace_count\n    count: 1\n", "event is required for trace_count"},
		{"negative count", "  - type: trace_count\n    event: sent:Sync\n    count: -1\n", "count must be non-negative"},
		{"unknown state field", "  - type: final_state\n    field: inventory\n", `unknown final_state field "inventory"`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(head + tt.assertion))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_TraceCountZeroAllowed(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: zero
description: "Sync is never sent"
flow:
  - connect: true
assertions:
  - type: trace_count
    event: sent:Sync
    count: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, scenario.Assertions[0].Count)
}

func TestServerStep_ToStep(t *testing.T) {
	step, err := ServerStep{Connected: &ConnectedStep{Slot: 2, SlotData: map[string]any{"goal": 1}}}.toStep()
	require.NoError(t, err)
	require.Len(t, step.Packets, 1)
	assert.Equal(t, "Connected", step.Packets[0].Command())

	step, err = ServerStep{Error: "reset by peer"}.toStep()
	require.NoError(t, err)
	assert.EqualError(t, step.Err, "reset by peer")

	step, err = ServerStep{Idle: true}.toStep()
	require.NoError(t, err)
	assert.Empty(t, step.Packets)
	assert.False(t, step.Close)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(path), scenario.Name+".yaml", "scenario name should match its file")
		})
	}
}
