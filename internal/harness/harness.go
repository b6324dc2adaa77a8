package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/apsync/internal/engine"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/store"
	"github.com/roach88/apsync/internal/testutil"
)

const (
	// scenarioServer is the address every scenario connects to.
	scenarioServer = "localhost:38281"

	defaultSlot         = "Ammy"
	defaultScoutTimeout = 100 * time.Millisecond
)

// Harness runs one scenario against a real engine.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	clock    *testutil.FakeClock
	trace    *tracer
	sink     *traceSink
	logger   *slog.Logger

	eng    *engine.Engine
	steps  [][]testutil.Step // server script per connection
	dialed int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh in-memory store with a fake clock, so the
// trace is identical across runs. Execution flow:
//  1. Seed the store with earlier progress, if any
//  2. Execute flow steps, pumping the scripted server connections
//  3. Collect the final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := seedStore(ctx, st, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	steps, err := serverScripts(scenario.Connections)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	trace := &tracer{result: result, status: "Disconnected"}
	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewFakeClock(),
		trace:    trace,
		sink:     &traceSink{trace: trace, fail: scenario.Client.FailGrant},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		steps:    steps,
	}

	if h.eng, err = h.newEngine(); err != nil {
		return nil, err
	}
	defer func() { h.eng.Close() }()

	for i, step := range scenario.Flow {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
	}

	if result.State, err = h.finalState(ctx); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func seedStore(ctx context.Context, st *store.Store, s *Scenario) error {
	if s.Store == nil {
		return nil
	}
	key := store.NewSessionKey(slotName(s), s.Store.Seed)
	if s.Store.ItemIndex != nil {
		if err := st.SaveItemIndex(ctx, key, *s.Store.ItemIndex); err != nil {
			return err
		}
	}
	return st.RecordSentChecks(ctx, key, s.Store.SentChecks...)
}

func slotName(s *Scenario) string {
	if s.Client.Slot != "" {
		return s.Client.Slot
	}
	return defaultSlot
}

func (h *Harness) newEngine() (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
		engine.WithAutoReconnect(h.scenario.Client.AutoReconnect),
	}
	if v := h.scenario.Client.ClientVersion; v != "" {
		opts = append(opts, engine.WithClientVersion(v))
	}
	return engine.New(h.dial, h.store, h.sink, opts...)
}

// dial hands out the next scripted connection. Connections past the end of
// the scenario accept the socket and never answer.
func (h *Harness) dial() engine.Transport {
	var steps []testutil.Step
	if h.dialed < len(h.steps) {
		steps = h.steps[h.dialed]
	}
	h.dialed++
	return &traceTransport{ScriptedTransport: testutil.NewScriptedTransport(steps...), trace: h.trace}
}

// execute runs one flow step and records the status it leaves behind.
func (h *Harness) execute(ctx context.Context, step FlowStep) error {
	switch {
	case step.Connect:
		h.trace.flow("connect", nil)
		if err := h.eng.Connect(scenarioServer, slotName(h.scenario), ""); err != nil {
			return err
		}

	case step.Pump > 0:
		h.trace.flow("pump", map[string]any{"count": step.Pump})
		for i, n := 0, step.Pump; i < n; i++ {
			h.clock.Advance(h.pollInterval())
			h.tick()
		}

	case step.Advance > 0:
		h.trace.flow("advance", map[string]any{"duration": step.Advance.String()})
		h.clock.Advance(step.Advance)

	case step.Tick > 0:
		h.trace.flow("tick", map[string]any{"count": step.Tick})
		for i, n := 0, step.Tick; i < n; i++ {
			h.tick()
		}

	case step.Gameplay != nil:
		h.trace.flow("gameplay", map[string]any{"active": *step.Gameplay})
		h.eng.SetGameplayActive(*step.Gameplay)

	case step.Check != nil:
		h.trace.flow("check", map[string]any{"locations": step.Check})
		for _, id := range step.Check {
			h.eng.SendCheck(id)
		}

	case step.Scout != nil:
		return h.scout(ctx, step.Scout)

	case step.Sync:
		h.trace.flow("sync", nil)
		h.ignore("sync", h.eng.RequestSync())

	case step.Resend:
		h.trace.flow("resend", nil)
		h.eng.ResendAllChecks()

	case step.Goal:
		h.trace.flow("goal", nil)
		h.ignore("goal", h.eng.GameFinished())

	case step.Disconnect:
		h.trace.flow("disconnect", nil)
		h.eng.Disconnect()

	case step.Restart:
		h.trace.flow("restart", nil)
		h.eng.Close()
		eng, err := h.newEngine()
		if err != nil {
			return err
		}
		h.eng = eng
	}

	h.trace.observe(h.eng.Status())
	return nil
}

func (h *Harness) tick() {
	h.ignore("tick", h.eng.Tick())
	h.trace.observe(h.eng.Status())
}

// ignore logs errors the trace already shows, such as a refused grant or a
// send while disconnected.
func (h *Harness) ignore(op string, err error) {
	if err != nil {
		h.logger.Debug("step error", "op", op, "error", err)
	}
}

func (h *Harness) pollInterval() time.Duration {
	if h.eng.State() == engine.StateConnected {
		return engine.DefaultPollIntervalConnected
	}
	return engine.DefaultPollIntervalConnecting
}

func (h *Harness) scout(ctx context.Context, s *ScoutStep) error {
	h.trace.flow("scout", map[string]any{"locations": s.Locations})

	hint := protocol.HintNone
	if s.Hint {
		hint = protocol.HintCreate
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultScoutTimeout
	}

	// Let the scout's first pump reach the server.
	h.clock.Advance(engine.DefaultPollIntervalConnected)
	found, err := h.eng.ScoutSync(ctx, s.Locations, hint, timeout)
	if err != nil && !errors.Is(err, engine.ErrNotConnected) {
		return fmt.Errorf("scout: %w", err)
	}

	slot := h.eng.Slot()
	for _, it := range found {
		name := fmt.Sprintf("item %d", it.Item)
		if it.Player == slot {
			name = h.eng.Catalog().Name(it.Item)
		}
		h.trace.add(EventScouted, name, map[string]any{"location": it.Location, "player": it.Player})
	}
	h.trace.observe(h.eng.Status())
	return nil
}

// stateFields names the values a final_state assertion may check.
var stateFields = map[string]struct{}{
	"applied_index":   {},
	"pending_rewards": {},
	"sent_checks":     {},
	"status":          {},
	"state":           {},
	"session":         {},
	"persisted_index": {},
	"journal":         {},
}

func (h *Harness) finalState(ctx context.Context) (map[string]any, error) {
	key, ok := h.eng.SessionKey()
	if !ok && h.scenario.Store != nil {
		key, ok = store.NewSessionKey(slotName(h.scenario), h.scenario.Store.Seed), true
	}

	persisted := store.NoProgress
	journal := []int64{}
	session := ""
	if ok {
		session = key.String()
		idx, err := h.store.LoadItemIndex(ctx, key)
		if err != nil {
			return nil, err
		}
		persisted = idx
		ids, err := h.store.SentChecks(ctx, key)
		if err != nil {
			return nil, err
		}
		if ids != nil {
			journal = ids
		}
	}

	return map[string]any{
		"applied_index":   h.eng.AppliedIndex(),
		"pending_rewards": h.eng.PendingRewards(),
		"sent_checks":     h.eng.SentChecks(),
		"status":          h.eng.Status(),
		"state":           h.eng.State().String(),
		"session":         session,
		"persisted_index": persisted,
		"journal":         journal,
	}, nil
}

// traceTransport records every packet the client sends.
type traceTransport struct {
	*testutil.ScriptedTransport
	trace *tracer
}

func (t *traceTransport) Send(packets ...protocol.ClientPacket) error {
	if err := t.ScriptedTransport.Send(packets...); err != nil {
		return err
	}
	for _, p := range packets {
		t.trace.add(EventSent, p.Command(), packetArgs(p))
	}
	return nil
}

// packetArgs keeps the fields scenarios assert on. Connect is left bare
// because it carries the generated client UUID.
func packetArgs(p protocol.ClientPacket) map[string]any {
	switch p := p.(type) {
	case protocol.LocationChecks:
		return map[string]any{"locations": p.Locations}
	case protocol.StatusUpdate:
		return map[string]any{"status": int(p.Status)}
	case protocol.LocationScouts:
		return map[string]any{"locations": p.Locations, "create_as_hint": int(p.CreateAsHint)}
	}
	return nil
}

// serverScripts converts each connection into transport steps.
func serverScripts(conns []Connection) ([][]testutil.Step, error) {
	out := make([][]testutil.Step, len(conns))
	for c, conn := range conns {
		for i, s := range conn.Steps {
			step, err := s.toStep()
			if err != nil {
				return nil, fmt.Errorf("connections[%d].steps[%d]: %w", c, i, err)
			}
			out[c] = append(out[c], step)
		}
	}
	return out, nil
}

func (s ServerStep) toStep() (testutil.Step, error) {
	switch {
	case s.RoomInfo != nil:
		return testutil.RoomInfoStep(s.RoomInfo.Seed), nil
	case s.Connected != nil:
		slotData := ""
		if s.Connected.SlotData != nil {
			data, err := json.Marshal(s.Connected.SlotData)
			if err != nil {
				return testutil.Step{}, fmt.Errorf("slot_data: %w", err)
			}
			slotData = string(data)
		}
		return testutil.ConnectedStep(s.Connected.Slot, s.Connected.Checked, slotData), nil
	case s.Refused != nil:
		return testutil.RefusedStep(s.Refused...), nil
	case s.Items != nil:
		return testutil.ItemsStep(s.Items.Index, s.Items.Items...), nil
	case s.LocationInfo != nil:
		items := make([]protocol.NetworkItem, len(s.LocationInfo))
		for i, li := range s.LocationInfo {
			items[i] = protocol.NetworkItem{Item: li.Item, Location: li.Location, Player: li.Player, Flags: li.Flags}
		}
		return testutil.Step{Packets: []protocol.ServerPacket{
			protocol.LocationInfo{Cmd: protocol.CmdLocationInfo, Locations: items},
		}}, nil
	case s.RoomUpdate != nil:
		return testutil.Step{Packets: []protocol.ServerPacket{
			protocol.RoomUpdate{Cmd: protocol.CmdRoomUpdate, CheckedLocations: s.RoomUpdate},
		}}, nil
	case s.Print != "":
		return testutil.Step{Packets: []protocol.ServerPacket{
			protocol.PrintJSON{Cmd: protocol.CmdPrintJSON, Data: []protocol.JSONMessagePart{{Text: s.Print}}},
		}}, nil
	case s.Close:
		return testutil.Step{Close: true}, nil
	case s.Error != "":
		return testutil.Step{Err: errors.New(s.Error)}, nil
	}
	return testutil.Step{}, nil
}
