// Package harness runs scripted client sessions against the sync engine.
//
// A scenario plays a fake Archipelago server, one script per connection,
// while flow steps drive a real engine.Engine the way a game loop would.
// Every packet the client sends, every reward the sink applies and every
// change of the connection status line is recorded in a trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: items_arrive_in_order
//	description: "What this scenario validates"
//	client:
//	  slot: Ammy
//	  auto_reconnect: false
//	  fail_grant: "brush 0"
//	store:
//	  seed: "4242"
//	  item_index: 1
//	  sent_checks: [100012]
//	connections:
//	  - steps:
//	      - room_info: {seed: "4242"}
//	      - connected: {slot: 1, checked: [100001]}
//	      - items: {index: 0, items: [0x13, 0x100]}
//	flow:
//	  - connect: true
//	  - gameplay: true
//	  - pump: 3
//	  - check: [100012]
//	assertions:
//	  - type: trace_contains
//	    event: sent:LocationChecks
//	    args: {locations: [100012]}
//	  - type: final_state
//	    field: applied_index
//	    expect: 1
//
// Each server step does one thing on one pump: room_info, connected,
// refused, items, location_info, room_update, print, close, error or idle.
// Each flow step is one of connect, pump, advance, tick, gameplay, check,
// scout, sync, resend, goal, disconnect or restart. A pump advances the
// fake clock by the poll interval of the current state and ticks once.
//
// # Trace Events
//
// Events are labelled "type:name":
//
//   - flow:<step> for each flow step
//   - sent:<command> for each packet sent
//   - granted:<call> and refused:<call> for each sink call, e.g. "item 0x13"
//   - status:<line> when the status line changes
//   - scouted:<item> for each scouted item
//
// # Assertion Types
//
//   - trace_contains: an event with the label and a superset of args exists
//   - trace_order: the labelled events appear in order
//   - trace_count: the label appears exactly N times
//   - final_state: applied_index, pending_rewards, sent_checks, status,
//     state, session, persisted_index or journal equals the expected value
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/handshake.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
