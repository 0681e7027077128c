// Package harness provides scenario-based conformance testing for the
// narrative engine.
//
// Scenarios are YAML files pairing a CUE story pack with a step list
// and assertions. The runner seeds a fresh database, creates a session
// at the pack's start node, executes the steps, and checks the
// assertions against the published events and the final session.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	pack: path/to/story.cue
//	steps:
//	  - op: decision
//	    edge: "Go left"
//	  - op: vote_start
//	    durationSec: 30
//	  - op: vote_cast
//	    edge: "Go right"
//	    voter: alice
//	  - op: vote_close
//	    apply: true
//	  - op: rewind
//	    steps: 1
//	    expect_error: NOTHING_TO_REWIND
//	assertions:
//	  - type: event_order
//	    events: [session/created, decision/applied]
//	  - type: final_state
//	    state: { went: "left" }
//	  - type: current_node
//	    node: left
//
// # Determinism
//
// Every run uses a fresh SQLite database and a deterministic clock that
// advances one second per step, so event timestamps and ordering are
// reproducible across runs.
package harness
