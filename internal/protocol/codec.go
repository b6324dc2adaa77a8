package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when a frame holds no packets.
var ErrEmptyMessage = errors.New("protocol: empty message")

// Handler receives transport events.
//
// Transports may invoke a Handler from their own goroutine, so
// implementations must not touch consumer-owned state directly.
type Handler interface {
	// SocketConnected is called once the WebSocket handshake completes.
	SocketConnected()

	// SocketClosed is called when the peer closes the socket or a read fails.
	// It is not called after a local Close.
	SocketClosed(err error)

	// Packet is called for every decoded server packet, in frame order.
	Packet(p ServerPacket)
}

// EncodeClientMessage encodes packets into a single frame payload.
// The cmd field is stamped from the packet type, and nil slices are encoded
// as empty arrays because the server rejects null lists.
func EncodeClientMessage(packets ...ClientPacket) ([]byte, error) {
	if len(packets) == 0 {
		return nil, ErrEmptyMessage
	}
	stamped := make([]ClientPacket, len(packets))
	for i, p := range packets {
		s, err := stamp(p)
		if err != nil {
			return nil, err
		}
		stamped[i] = s
	}
	data, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("encode client message: %w", err)
	}
	return data, nil
}

func stamp(p ClientPacket) (ClientPacket, error) {
	switch v := p.(type) {
	case Connect:
		v.Cmd = CmdConnect
		v.Tags = nonNil(v.Tags)
		return v, nil
	case ConnectUpdate:
		v.Cmd = CmdConnectUpdate
		v.Tags = nonNil(v.Tags)
		return v, nil
	case StatusUpdate:
		v.Cmd = CmdStatusUpdate
		return v, nil
	case LocationChecks:
		v.Cmd = CmdLocationChecks
		if v.Locations == nil {
			v.Locations = []int64{}
		}
		return v, nil
	case LocationScouts:
		v.Cmd = CmdLocationScouts
		if v.Locations == nil {
			v.Locations = []int64{}
		}
		return v, nil
	case Sync:
		v.Cmd = CmdSync
		return v, nil
	default:
		return nil, fmt.Errorf("encode client message: unsupported packet %T", p)
	}
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// DecodeServerMessage decodes one frame into server packets.
//
// A packet that fails to decode aborts the whole frame: a half-applied frame
// could reorder ReceivedItems relative to Connected.
func DecodeServerMessage(data []byte) ([]ServerPacket, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrEmptyMessage
	}

	packets := make([]ServerPacket, 0, len(raws))
	for i, raw := range raws {
		p, err := decodePacket(raw)
		if err != nil {
			return nil, fmt.Errorf("decode server message: packet %d: %w", i, err)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func decodePacket(raw json.RawMessage) (ServerPacket, error) {
	var head struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Cmd {
	case CmdRoomInfo:
		return decodeAs[RoomInfo](raw)
	case CmdConnected:
		return decodeAs[Connected](raw)
	case CmdConnectionRefused:
		return decodeAs[ConnectionRefused](raw)
	case CmdReceivedItems:
		var p ReceivedItems
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		for i := range p.Items {
			p.Items[i].Index = p.Index + int64(i)
		}
		return p, nil
	case CmdLocationInfo:
		var p LocationInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		for i := range p.Locations {
			p.Locations[i].Index = -1
		}
		return p, nil
	case CmdRoomUpdate:
		return decodeAs[RoomUpdate](raw)
	case CmdPrintJSON:
		return decodeAs[PrintJSON](raw)
	case "":
		return nil, errors.New("missing cmd")
	default:
		return Unknown{Cmd: head.Cmd, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs[T ServerPacket](raw json.RawMessage) (ServerPacket, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewReceivedItems builds a ReceivedItems packet with indices stamped, the
// way DecodeServerMessage would deliver it. Used by fakes and tests.
func NewReceivedItems(index int64, items ...NetworkItem) ReceivedItems {
	p := ReceivedItems{Cmd: CmdReceivedItems, Index: index, Items: make([]NetworkItem, len(items))}
	for i, it := range items {
		it.Index = index + int64(i)
		p.Items[i] = it
	}
	return p
}
