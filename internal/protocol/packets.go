package protocol

import (
	"encoding/json"
	"strings"
)

// Command names used in the "cmd" discriminator.
const (
	CmdConnect           = "Connect"
	CmdConnectUpdate     = "ConnectUpdate"
	CmdStatusUpdate      = "StatusUpdate"
	CmdLocationChecks    = "LocationChecks"
	CmdLocationScouts    = "LocationScouts"
	CmdSync              = "Sync"
	CmdRoomInfo          = "RoomInfo"
	CmdConnected         = "Connected"
	CmdConnectionRefused = "ConnectionRefused"
	CmdReceivedItems     = "ReceivedItems"
	CmdLocationInfo      = "LocationInfo"
	CmdRoomUpdate        = "RoomUpdate"
	CmdPrintJSON         = "PrintJSON"
)

// ItemsHandlingAll asks the server for items from other worlds, from our own
// world, and the starting inventory.
const ItemsHandlingAll = 0b111

// ClientStatus is the value reported through StatusUpdate.
type ClientStatus int

const (
	StatusUnknown   ClientStatus = 0
	StatusConnected ClientStatus = 5
	StatusReady     ClientStatus = 10
	StatusPlaying   ClientStatus = 20
	StatusGoal      ClientStatus = 30
)

// HintMode controls whether a LocationScouts request creates hints.
type HintMode int

const (
	HintNone         HintMode = 0
	HintCreate       HintMode = 1
	HintCreateSilent HintMode = 2
)

// Version is the network version triple.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class"`
}

// NewVersion returns a Version with the class tag the server expects.
func NewVersion(major, minor, build int) Version {
	return Version{Major: major, Minor: minor, Build: build, Class: "Version"}
}

// NetworkItem is an item as it travels between server and client.
//
// Index is not part of the JSON object; DecodeServerMessage fills it for items
// carried by ReceivedItems and leaves it at -1 elsewhere.
type NetworkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
	Index    int64 `json:"-"`
}

// NetworkPlayer describes one slot in the multiworld.
type NetworkPlayer struct {
	Team  int    `json:"team"`
	Slot  int    `json:"slot"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

// ClientPacket is a packet sent from the client to the server.
type ClientPacket interface {
	Command() string
}

// ServerPacket is a packet sent from the server to the client.
type ServerPacket interface {
	Command() string
}

// Connect asks the server for a slot. Sent once per RoomInfo.
type Connect struct {
	Cmd           string   `json:"cmd"`
	Password      string   `json:"password"`
	Game          string   `json:"game"`
	Name          string   `json:"name"`
	UUID          string   `json:"uuid"`
	Version       Version  `json:"version"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
	SlotData      bool     `json:"slot_data"`
}

func (Connect) Command() string { return CmdConnect }

// ConnectUpdate changes items handling or tags after the slot is connected.
type ConnectUpdate struct {
	Cmd           string   `json:"cmd"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
}

func (ConnectUpdate) Command() string { return CmdConnectUpdate }

// StatusUpdate reports the client's play status.
type StatusUpdate struct {
	Cmd    string       `json:"cmd"`
	Status ClientStatus `json:"status"`
}

func (StatusUpdate) Command() string { return CmdStatusUpdate }

// LocationChecks reports checked locations.
type LocationChecks struct {
	Cmd       string  `json:"cmd"`
	Locations []int64 `json:"locations"`
}

func (LocationChecks) Command() string { return CmdLocationChecks }

// LocationScouts asks what is placed at the given locations without checking them.
type LocationScouts struct {
	Cmd          string   `json:"cmd"`
	Locations    []int64  `json:"locations"`
	CreateAsHint HintMode `json:"create_as_hint"`
}

func (LocationScouts) Command() string { return CmdLocationScouts }

// Sync asks the server to resend the full ReceivedItems history.
type Sync struct {
	Cmd string `json:"cmd"`
}

func (Sync) Command() string { return CmdSync }

// RoomInfo is the first packet the server sends after the socket opens.
type RoomInfo struct {
	Cmd              string   `json:"cmd"`
	Version          Version  `json:"version"`
	GeneratorVersion Version  `json:"generator_version"`
	Tags             []string `json:"tags"`
	Password         bool     `json:"password"`
	HintCost         int      `json:"hint_cost"`
	Games            []string `json:"games"`
	SeedName         string   `json:"seed_name"`
}

func (RoomInfo) Command() string { return CmdRoomInfo }

// Connected confirms the slot connection.
type Connected struct {
	Cmd              string          `json:"cmd"`
	Team             int             `json:"team"`
	Slot             int             `json:"slot"`
	Players          []NetworkPlayer `json:"players"`
	MissingLocations []int64         `json:"missing_locations"`
	CheckedLocations []int64         `json:"checked_locations"`
	SlotData         json.RawMessage `json:"slot_data"`
	HintPoints       int             `json:"hint_points"`
}

func (Connected) Command() string { return CmdConnected }

// ConnectionRefused rejects a Connect packet.
type ConnectionRefused struct {
	Cmd    string   `json:"cmd"`
	Errors []string `json:"errors"`
}

func (ConnectionRefused) Command() string { return CmdConnectionRefused }

// Reason joins the refusal errors for display.
func (p ConnectionRefused) Reason() string {
	if len(p.Errors) == 0 {
		return "unknown reason"
	}
	return strings.Join(p.Errors, " ")
}

// ReceivedItems carries items granted to this slot.
type ReceivedItems struct {
	Cmd   string        `json:"cmd"`
	Index int64         `json:"index"`
	Items []NetworkItem `json:"items"`
}

func (ReceivedItems) Command() string { return CmdReceivedItems }

// LocationInfo answers LocationScouts.
type LocationInfo struct {
	Cmd       string        `json:"cmd"`
	Locations []NetworkItem `json:"locations"`
}

func (LocationInfo) Command() string { return CmdLocationInfo }

// RoomUpdate carries incremental room changes. Only checked_locations matters here.
type RoomUpdate struct {
	Cmd              string  `json:"cmd"`
	CheckedLocations []int64 `json:"checked_locations"`
	HintPoints       *int    `json:"hint_points,omitempty"`
}

func (RoomUpdate) Command() string { return CmdRoomUpdate }

// PrintJSON is a chat or event message for display.
type PrintJSON struct {
	Cmd  string            `json:"cmd"`
	Type string            `json:"type"`
	Data []JSONMessagePart `json:"data"`
}

func (PrintJSON) Command() string { return CmdPrintJSON }

// JSONMessagePart is one fragment of a PrintJSON message.
type JSONMessagePart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// Text concatenates the message fragments.
func (p PrintJSON) Text() string {
	var b strings.Builder
	for _, part := range p.Data {
		b.WriteString(part.Text)
	}
	return b.String()
}

// Unknown holds a packet whose command this client does not handle.
type Unknown struct {
	Cmd string
	Raw json.RawMessage
}

func (u Unknown) Command() string { return u.Cmd }
