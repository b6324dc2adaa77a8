package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apsync/internal/protocol"
)

type recordingHandler struct {
	connected int
	closed    []error
	packets   []protocol.ServerPacket
}

func (h *recordingHandler) SocketConnected()               { h.connected++ }
func (h *recordingHandler) SocketClosed(err error)         { h.closed = append(h.closed, err) }
func (h *recordingHandler) Packet(p protocol.ServerPacket) { h.packets = append(h.packets, p) }

func TestScriptedTransport_OneStepPerPoll(t *testing.T) {
	tr := NewScriptedTransport(RoomInfoStep("seed"), ConnectedStep(1, nil, ""))
	h := &recordingHandler{}

	require.NoError(t, tr.Open("ws://localhost:38281", h))
	assert.Equal(t, 1, h.connected)
	assert.Equal(t, "ws://localhost:38281", tr.URI())

	require.NoError(t, tr.Poll())
	require.Len(t, h.packets, 1)
	assert.Equal(t, protocol.CmdRoomInfo, h.packets[0].Command())

	require.NoError(t, tr.Poll())
	require.Len(t, h.packets, 2)
	assert.Equal(t, protocol.CmdConnected, h.packets[1].Command())

	require.NoError(t, tr.Poll())
	assert.Len(t, h.packets, 2)
	assert.Equal(t, 3, tr.Pumps())
	assert.Equal(t, 0, tr.Remaining())
}

func TestScriptedTransport_StepErrorAndClose(t *testing.T) {
	boom := errors.New("boom")
	tr := NewScriptedTransport(Step{Err: boom}, Step{Close: true})
	h := &recordingHandler{}
	require.NoError(t, tr.Open("ws://x:1", h))

	assert.ErrorIs(t, tr.Poll(), boom)
	require.NoError(t, tr.Poll())
	assert.Len(t, h.closed, 1)
}

func TestScriptedTransport_PanicStep(t *testing.T) {
	tr := NewScriptedTransport(Step{Panic: "pump exploded"})
	require.NoError(t, tr.Open("ws://x:1", &recordingHandler{}))
	assert.PanicsWithValue(t, "pump exploded", func() { _ = tr.Poll() })
}

func TestScriptedTransport_RecordsSends(t *testing.T) {
	tr := NewScriptedTransport()
	require.NoError(t, tr.Open("ws://x:1", &recordingHandler{}))

	require.NoError(t, tr.Send(protocol.LocationChecks{Locations: []int64{1, 2}}))
	require.NoError(t, tr.Send(protocol.Sync{}, protocol.LocationChecks{Locations: []int64{3}}))

	assert.Len(t, tr.Sent(), 2)
	assert.Len(t, tr.SentOf(protocol.CmdSync), 1)
	assert.Equal(t, []int64{1, 2, 3}, tr.SentLocations())
	assert.JSONEq(t, `[{"cmd":"LocationChecks","locations":[1,2]}]`, string(tr.Frames()[0]))
}

func TestScriptedTransport_SendAfterClose(t *testing.T) {
	tr := NewScriptedTransport()
	require.NoError(t, tr.Open("ws://x:1", &recordingHandler{}))
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Send(protocol.Sync{}), ErrTransportClosed)
	assert.True(t, tr.Closed())
}

func TestScriptedTransport_OpenErr(t *testing.T) {
	tr := NewScriptedTransport()
	tr.OpenErr = errors.New("dial refused")
	h := &recordingHandler{}

	assert.Error(t, tr.Open("ws://x:1", h))
	assert.Zero(t, h.connected)
}

func TestItemsStep_StampsIndices(t *testing.T) {
	step := ItemsStep(4, 0x100, 0x13)
	items := step.Packets[0].(protocol.ReceivedItems).Items
	require.Len(t, items, 2)
	assert.Equal(t, int64(4), items[0].Index)
	assert.Equal(t, int64(5), items[1].Index)
	assert.Equal(t, int64(0x13), items[1].Item)
}
