// Package harness replays YAML scenarios against a storage engine and checks
// the events each subscriber observed.
//
// # Scenario Format
//
//	name: signer_then_cast
//	description: "What this scenario validates"
//	network: devnet
//	now: 1000
//	setup:
//	  - invoke: register
//	    fid: 1
//	subscribers:
//	  - name: all
//	  - name: merges
//	    types: [mergeMessage]
//	flow:
//	  - invoke: signer_add
//	    fid: 1
//	    key: app
//	    ts: 10
//	  - invoke: cast_add
//	    fid: 1
//	    signer: app
//	    ts: 20
//	    text: hello
//	    label: hello
//	    expect:
//	      outcome: merged
//	assertions:
//	  - type: event_count
//	    subscriber: merges
//	    event: mergeMessage
//	    count: 2
//
// Setup steps run before subscribers attach and must succeed. Flow steps
// without an expect clause must merge; with one, the outcome or error code
// must match. A check step evaluates a live_count or message assertion at
// that point of the flow:
//
//	- invoke: check
//	  check:
//	    type: live_count
//	    fid: 1
//	    set: cast
//	    count: 1
//
// # Assertion Types
//
//   - event_count: a subscriber saw exactly Count events of one type
//   - event_order: a subscriber saw these event types in this order
//   - live_count: a fid's set holds exactly Count live records
//   - message: a labelled message is (or is not) stored
//
// # Deterministic Testing
//
// Keys are derived from fids and names (internal/testutil), the clock is
// fixed at the scenario's now, and every run uses a fresh in-memory
// database, so traces are byte-identical across runs and can be compared
// against golden files.
package harness
