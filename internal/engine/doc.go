// Package engine keeps an Archipelago slot in sync with the game.
//
// ARCHITECTURE:
//
// Two goroutines touch the engine. The transport goroutine reads frames and
// invokes the ConnectionManager's handler; the consumer goroutine (the game
// tick) calls Engine.Tick. Handlers update lock-guarded connection state,
// answer the handshake, complete scouts and enqueue tasks. Everything that
// reaches the reward Sink runs inside Tick.
//
// Components:
//   - ConnectionManager: transport ownership, handshake, poll pacing, reconnect
//   - TaskQueue: hand-off from the transport goroutine to the consumer
//   - CheckDeduplicator: at-most-once location checks, resync with the server
//   - ItemTracker: ordered, gap-detecting item ingestion and the high-water index
//   - RewardQueue: rewards waiting for gameplay, granted with checks suspended
//   - ScoutCoordinator: a bounded blocking LocationScouts call
//
// Handshake:
//
//	Disconnected --Connect--> Connecting --RoomInfo/send Connect--> WaitingForSlot
//	WaitingForSlot --Connected/send ConnectUpdate+StatusUpdate--> Connected
//	Connecting|WaitingForSlot --ConnectionRefused--> Refused
//	any --socket closed | poll failure | timeout | Disconnect--> Disconnected
//
// Entering Connected resolves the slot configuration once and schedules the
// session load: the persisted item index, the check journal, and the
// reconciliation with the server's checked locations. The gates for sending
// checks and granting rewards open only after that load and while the
// gameplay signal is set.
//
// Ordering: items are applied in strictly increasing index order and never
// twice. The high-water index is persisted after every batch that advances it.
package engine
