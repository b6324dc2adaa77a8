package protocol

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeClientMessage_Golden(t *testing.T) {
	tests := []struct {
		name    string
		packets []ClientPacket
	}{
		{
			name: "connect",
			packets: []ClientPacket{Connect{
				Game:          "Okami HD",
				Name:          "Ammy",
				UUID:          "0190a7c2-0000-7000-8000-000000000001",
				Version:       NewVersion(0, 6, 0),
				ItemsHandling: ItemsHandlingAll,
				SlotData:      true,
			}},
		},
		{
			name: "handshake_reply",
			packets: []ClientPacket{
				ConnectUpdate{ItemsHandling: ItemsHandlingAll},
				StatusUpdate{Status: StatusPlaying},
			},
		},
		{
			name:    "location_checks",
			packets: []ClientPacket{LocationChecks{Locations: []int64{100012, 300002}}},
		},
		{
			name:    "location_scouts",
			packets: []ClientPacket{LocationScouts{Locations: []int64{900257}, CreateAsHint: HintCreate}},
		},
		{
			name:    "sync",
			packets: []ClientPacket{Sync{}},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeClientMessage(tt.packets...)
			require.NoError(t, err)
			g.Assert(t, tt.name, data)
		})
	}
}

func TestEncodeClientMessage_Empty(t *testing.T) {
	_, err := EncodeClientMessage()
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDecodeServerMessage_Handshake(t *testing.T) {
	frame := []byte(`[
		{"cmd":"RoomInfo","seed_name":"4242","password":false,"version":{"major":0,"minor":6,"build":1,"class":"Version"},"tags":["AP"],"games":["Okami HD"]},
		{"cmd":"Connected","team":0,"slot":3,"players":[{"team":0,"slot":3,"alias":"Ammy","name":"Ammy"}],"missing_locations":[100001],"checked_locations":[100002,100003],"slot_data":{"RandomizeShops":true}}
	]`)

	packets, err := DecodeServerMessage(frame)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	room, ok := packets[0].(RoomInfo)
	require.True(t, ok, "first packet should be RoomInfo, got %T", packets[0])
	assert.Equal(t, "4242", room.SeedName)
	assert.Equal(t, 6, room.Version.Minor)

	conn, ok := packets[1].(Connected)
	require.True(t, ok, "second packet should be Connected, got %T", packets[1])
	assert.Equal(t, 3, conn.Slot)
	assert.Equal(t, []int64{100002, 100003}, conn.CheckedLocations)
	assert.JSONEq(t, `{"RandomizeShops":true}`, string(conn.SlotData))
}

func TestDecodeServerMessage_ReceivedItemsStampsIndex(t *testing.T) {
	frame := []byte(`[{"cmd":"ReceivedItems","index":7,"items":[
		{"item":256,"location":100010,"player":2,"flags":1},
		{"item":19,"location":100011,"player":2,"flags":0}
	]}]`)

	packets, err := DecodeServerMessage(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	items := packets[0].(ReceivedItems)
	require.Len(t, items.Items, 2)
	assert.Equal(t, int64(7), items.Items[0].Index)
	assert.Equal(t, int64(8), items.Items[1].Index)
	assert.Equal(t, int64(256), items.Items[0].Item)
}

func TestDecodeServerMessage_Refused(t *testing.T) {
	packets, err := DecodeServerMessage([]byte(`[{"cmd":"ConnectionRefused","errors":["InvalidSlot","InvalidPassword"]}]`))
	require.NoError(t, err)

	refused := packets[0].(ConnectionRefused)
	assert.Equal(t, "InvalidSlot InvalidPassword", refused.Reason())
	assert.Equal(t, "unknown reason", ConnectionRefused{}.Reason())
}

func TestDecodeServerMessage_UnknownCommandIsKept(t *testing.T) {
	packets, err := DecodeServerMessage([]byte(`[{"cmd":"Bounced","data":{}}]`))
	require.NoError(t, err)

	unknown, ok := packets[0].(Unknown)
	require.True(t, ok)
	assert.Equal(t, "Bounced", unknown.Command())
}

func TestDecodeServerMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{`},
		{"not an array", `{"cmd":"RoomInfo"}`},
		{"empty array", `[]`},
		{"missing cmd", `[{"seed_name":"x"}]`},
		{"bad field type", `[{"cmd":"ReceivedItems","index":"zero","items":[]}]`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(tt.frame))
			assert.Error(t, err)
		})
	}
}

func TestPrintJSONText(t *testing.T) {
	p := PrintJSON{Data: []JSONMessagePart{{Text: "Ammy found "}, {Type: "item_id", Text: "Sunrise"}}}
	assert.Equal(t, "Ammy found Sunrise", p.Text())
}

func TestNewReceivedItems(t *testing.T) {
	p := NewReceivedItems(3, NetworkItem{Item: 1}, NetworkItem{Item: 2})
	assert.Equal(t, CmdReceivedItems, p.Command())
	assert.Equal(t, int64(3), p.Items[0].Index)
	assert.Equal(t, int64(4), p.Items[1].Index)
}
