package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario scripts one client session against a fake server.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Client configures the engine under test.
	Client ClientConfig `yaml:"client,omitempty"`

	// Store seeds persisted progress before the engine starts.
	Store *StoreSeed `yaml:"store,omitempty"`

	// Connections lists what the server does on each successive transport.
	// A reconnect opens the next one; connections past the end stay silent.
	Connections []Connection `yaml:"connections"`

	// Flow contains the client actions, executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ClientConfig configures the engine under test.
type ClientConfig struct {
	Slot          string `yaml:"slot,omitempty"` // default "Ammy"
	ClientVersion string `yaml:"client_version,omitempty"`
	AutoReconnect bool   `yaml:"auto_reconnect,omitempty"`

	// FailGrant makes the sink reject the grant with this description,
	// e.g. "brush 0".
	FailGrant string `yaml:"fail_grant,omitempty"`
}

// StoreSeed is progress persisted by an earlier run.
type StoreSeed struct {
	Seed       string  `yaml:"seed"`
	ItemIndex  *int64  `yaml:"item_index,omitempty"`
	SentChecks []int64 `yaml:"sent_checks,omitempty"`
}

// Connection is the server side of one transport.
type Connection struct {
	Steps []ServerStep `yaml:"steps"`
}

// ServerStep is what the server does on one pump. Exactly one field is
// set; an empty step (idle: true) delivers nothing.
type ServerStep struct {
	RoomInfo     *RoomInfoStep      `yaml:"room_info,omitempty"`
	Connected    *ConnectedStep     `yaml:"connected,omitempty"`
	Refused      []string           `yaml:"refused,omitempty"`
	Items        *ItemsStep         `yaml:"items,omitempty"`
	LocationInfo []LocationInfoItem `yaml:"location_info,omitempty"`
	RoomUpdate   []int64            `yaml:"room_update,omitempty"`
	Print        string             `yaml:"print,omitempty"`
	Close        bool               `yaml:"close,omitempty"`
	Error        string             `yaml:"error,omitempty"`
	Idle         bool               `yaml:"idle,omitempty"`
}

type RoomInfoStep struct {
	Seed string `yaml:"seed"`
}

type ConnectedStep struct {
	Slot     int            `yaml:"slot"`
	Checked  []int64        `yaml:"checked,omitempty"`
	SlotData map[string]any `yaml:"slot_data,omitempty"`
}

type ItemsStep struct {
	Index int64   `yaml:"index"`
	Items []int64 `yaml:"items"`
}

type LocationInfoItem struct {
	Location int64 `yaml:"location"`
	Item     int64 `yaml:"item"`
	Player   int   `yaml:"player"`
	Flags    int   `yaml:"flags,omitempty"`
}

// FlowStep is one client action. Exactly one field is set.
type FlowStep struct {
	Connect    bool          `yaml:"connect,omitempty"`
	Pump       int           `yaml:"pump,omitempty"`
	Advance    time.Duration `yaml:"advance,omitempty"`
	Tick       int           `yaml:"tick,omitempty"`
	Gameplay   *bool         `yaml:"gameplay,omitempty"`
	Check      []int64       `yaml:"check,omitempty"`
	Scout      *ScoutStep    `yaml:"scout,omitempty"`
	Sync       bool          `yaml:"sync,omitempty"`
	Resend     bool          `yaml:"resend,omitempty"`
	Goal       bool          `yaml:"goal,omitempty"`
	Disconnect bool          `yaml:"disconnect,omitempty"`
	Restart    bool          `yaml:"restart,omitempty"`
}

type ScoutStep struct {
	Locations []int64       `yaml:"locations"`
	Hint      bool          `yaml:"hint,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is a "type:name" trace label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Args are matched as a subset of the event's args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Events are trace labels that must appear in order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Field names a final state value (final_state).
	Field string `yaml:"field,omitempty"`

	// Expect is the expected final state value (final_state).
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Store != nil && s.Store.Seed == "" {
		return fmt.Errorf("store: seed is required")
	}

	for c, conn := range s.Connections {
		for i, step := range conn.Steps {
			if n := step.fields(); n != 1 {
				return fmt.Errorf("connections[%d].steps[%d]: exactly one action is required, got %d", c, i, n)
			}
		}
	}
	for i, step := range s.Flow {
		if n := step.fields(); n != 1 {
			return fmt.Errorf("flow[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Scout != nil && len(step.Scout.Locations) == 0 {
			return fmt.Errorf("flow[%d].scout: locations are required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s ServerStep) fields() int {
	return count(s.RoomInfo != nil, s.Connected != nil, s.Refused != nil, s.Items != nil,
		s.LocationInfo != nil, s.RoomUpdate != nil, s.Print != "", s.Close, s.Error != "", s.Idle)
}

func (f FlowStep) fields() int {
	return count(f.Connect, f.Pump > 0, f.Advance > 0, f.Tick > 0, f.Gameplay != nil, f.Check != nil,
		f.Scout != nil, f.Sync, f.Resend, f.Goal, f.Disconnect, f.Restart)
}

func count(set ...bool) int {
	n := 0
	for _, b := range set {
		if b {
			n++
		}
	}
	return n
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if _, ok := stateFields[a.Field]; !ok {
			return fmt.Errorf("assertions[%d]: unknown final_state field %q", index, a.Field)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
