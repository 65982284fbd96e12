// Package harness replays recorded watcher activity through the engine and
// checks what reached the ledger.
//
// A scenario is a YAML document holding a configuration, the raw samples
// of each watcher as offsets from a start time, an optional seeded ledger
// and a list of assertions. Run builds a fixture dump from the samples,
// runs the engine in batch mode over the scenario's range against a
// simulated timew ledger and an in-memory store, and returns every commit
// decision together with the timew commands that would have run.
//
// Assertions check the trace (commit_contains, commit_order, commit_count,
// never_tagged), the ledger (command_count) or the store tables
// (final_state). Golden files under testdata/golden pin the full trace:
//
//	go test ./internal/harness -update
//
// regenerates them.
package harness
