// Package protocol defines the Archipelago wire protocol as spoken by apsync.
//
// Every WebSocket frame carries a JSON array of packets. Each packet is an
// object with a "cmd" discriminator:
//
//	[{"cmd":"LocationChecks","locations":[100012]}]
//
// Client packets (Connect, ConnectUpdate, StatusUpdate, LocationChecks,
// LocationScouts, Sync) are encoded with EncodeClientMessage. Server packets
// (RoomInfo, Connected, ConnectionRefused, ReceivedItems, LocationInfo,
// RoomUpdate, PrintJSON) are decoded with DecodeServerMessage. Commands the
// client does not understand decode to Unknown and are ignored upstream.
//
// ReceivedItems is a replay-safe stream keyed by index. The server sends the
// index of the first item in the packet; the decoder stamps each
// NetworkItem.Index with that base plus the item's offset so consumers never
// have to reconstruct it.
package protocol
