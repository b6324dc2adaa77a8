package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/roach88/apsync/internal/protocol"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("scripted transport: closed")

// Step is what one Poll of a ScriptedTransport does, in this order: panic,
// return Err, deliver Packets, then close the socket from the server side.
type Step struct {
	Packets []protocol.ServerPacket
	Close   bool
	Err     error
	Panic   string
}

// ScriptedTransport is an in-memory transport that plays back one Step per
// Poll and records every frame sent. It satisfies engine.Transport.
//
// Thread-safety: All methods are safe for concurrent use. Handler callbacks
// run outside the internal mutex.
type ScriptedTransport struct {
	mu      sync.Mutex
	steps   []Step
	handler protocol.Handler
	uri     string
	opened  bool
	closed  bool
	sent    [][]protocol.ClientPacket
	frames  [][]byte
	pumps   int

	// OpenErr is returned by Open when set.
	OpenErr error
	// SendErr is returned by Send when set.
	SendErr error
}

// NewScriptedTransport creates a transport that will play steps in order.
func NewScriptedTransport(steps ...Step) *ScriptedTransport {
	return &ScriptedTransport{steps: steps}
}

// Open records uri and reports the socket as connected immediately.
func (t *ScriptedTransport) Open(uri string, h protocol.Handler) error {
	t.mu.Lock()
	if t.OpenErr != nil {
		err := t.OpenErr
		t.mu.Unlock()
		return err
	}
	t.uri = uri
	t.handler = h
	t.opened = true
	t.mu.Unlock()

	h.SocketConnected()
	return nil
}

// Send encodes packets the way a real transport would and records them.
func (t *ScriptedTransport) Send(packets ...protocol.ClientPacket) error {
	frame, err := protocol.EncodeClientMessage(packets...)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sent = append(t.sent, append([]protocol.ClientPacket(nil), packets...))
	t.frames = append(t.frames, frame)
	return nil
}

// Poll plays the next step. With no steps left it does nothing.
func (t *ScriptedTransport) Poll() error {
	t.mu.Lock()
	t.pumps++
	if len(t.steps) == 0 || t.closed {
		t.mu.Unlock()
		return nil
	}
	step := t.steps[0]
	t.steps = t.steps[1:]
	h := t.handler
	t.mu.Unlock()

	if step.Panic != "" {
		panic(step.Panic)
	}
	if step.Err != nil {
		return step.Err
	}
	for _, p := range step.Packets {
		h.Packet(p)
	}
	if step.Close {
		h.SocketClosed(errors.New("closed by peer"))
	}
	return nil
}

// Close marks the transport closed. It never calls the handler.
func (t *ScriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Push appends steps to the script.
func (t *ScriptedTransport) Push(steps ...Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, steps...)
}

// Deliver hands packets to the handler immediately, as a transport
// goroutine would between polls.
func (t *ScriptedTransport) Deliver(packets ...protocol.ServerPacket) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	for _, p := range packets {
		h.Packet(p)
	}
}

// Drop reports a server-side close immediately.
func (t *ScriptedTransport) Drop(err error) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h.SocketClosed(err)
}

// Sent returns every sent frame as packets.
func (t *ScriptedTransport) Sent() [][]protocol.ClientPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]protocol.ClientPacket, len(t.sent))
	copy(out, t.sent)
	return out
}

// Frames returns every sent frame as encoded JSON.
func (t *ScriptedTransport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

// SentOf returns the sent packets with command cmd, across all frames.
func (t *ScriptedTransport) SentOf(cmd string) []protocol.ClientPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.ClientPacket
	for _, frame := range t.sent {
		for _, p := range frame {
			if p.Command() == cmd {
				out = append(out, p)
			}
		}
	}
	return out
}

// SentLocations returns the location ids of every LocationChecks sent.
func (t *ScriptedTransport) SentLocations() []int64 {
	var out []int64
	for _, p := range t.SentOf(protocol.CmdLocationChecks) {
		out = append(out, p.(protocol.LocationChecks).Locations...)
	}
	return out
}

// Pumps returns how many times Poll was called.
func (t *ScriptedTransport) Pumps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pumps
}

// URI returns the address passed to Open.
func (t *ScriptedTransport) URI() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uri
}

// Closed reports whether Close was called.
func (t *ScriptedTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Remaining returns the number of unplayed steps.
func (t *ScriptedTransport) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// RoomInfoStep is the server's greeting for seed.
func RoomInfoStep(seed string) Step {
	return Step{Packets: []protocol.ServerPacket{protocol.RoomInfo{
		Cmd:      protocol.CmdRoomInfo,
		Version:  protocol.NewVersion(0, 6, 2),
		SeedName: seed,
	}}}
}

// ConnectedStep accepts the slot. slotData is raw JSON and may be empty.
func ConnectedStep(slot int, checked []int64, slotData string) Step {
	p := protocol.Connected{
		Cmd:              protocol.CmdConnected,
		Slot:             slot,
		CheckedLocations: checked,
	}
	if slotData != "" {
		p.SlotData = json.RawMessage(slotData)
	}
	return Step{Packets: []protocol.ServerPacket{p}}
}

// RefusedStep rejects the slot with errs.
func RefusedStep(errs ...string) Step {
	return Step{Packets: []protocol.ServerPacket{protocol.ConnectionRefused{
		Cmd:    protocol.CmdConnectionRefused,
		Errors: errs,
	}}}
}

// ItemsStep delivers items starting at index.
func ItemsStep(index int64, items ...int64) Step {
	network := make([]protocol.NetworkItem, len(items))
	for i, id := range items {
		network[i] = protocol.NetworkItem{Item: id, Location: -1, Player: 0}
	}
	return Step{Packets: []protocol.ServerPacket{protocol.NewReceivedItems(index, network...)}}
}
