// Package harness runs scripted scenarios against the key-value store on a
// fresh in-memory ledger.
//
// Each scenario gets its own SQLite ledger, a deterministic wall clock and
// sequential record ids, so the trace a scenario produces is byte-for-byte
// reproducible and can be compared against a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: overwrite_latest_wins
//	description: "A later write to the same key wins"
//	app: demo                # default namespace (defaults to "demo")
//	lookback: 10             # optional anchor lookback override
//	incremental: false       # optional snapshot reconciliation
//	setup:
//	  - action: ledger.mine
//	    args: { blocks: 5 }
//	flow:
//	  - invoke: kv.open
//	    args: {}
//	    expect:
//	      case: Success
//	      result: { outcome: created_new, start_height: 6 }
//	  - invoke: kv.add
//	    args: { key: color, value: red }
//	assertions:
//	  - type: trace_count
//	    action: kv.add
//	    count: 1
//	  - type: final_state
//	    key: color
//	    value: red
//
// # Actions
//
//   - ledger.mine {blocks}: seal empty blocks
//   - ledger.submit_raw {data, app?}: submit bytes that bypass the record codec
//   - ledger.fail_submits {count, after?}: fail the next count submits after
//     letting after of them through
//   - kv.open {app?}: open (or reopen) a namespace
//   - kv.add {key, value, app?}, kv.get {key, app?}, kv.list {app?},
//     kv.status {app?}
//
// Each step's outcome is one of Success, NotFound, Degraded or Error.
//
// # Assertion Types
//
//   - trace_contains: a step with the action and matching args ran
//   - trace_order: actions ran in the given order, other steps in between
//   - trace_count: exactly N steps of an action matched the optional args
//   - final_state: a key reads back with the given value, or is absent when
//     value is omitted
//
// # Golden Traces
//
// The trace of every step, including its result, marshals deterministically
// and can be compared with testdata/golden/<name>.golden via goldie.
package harness
