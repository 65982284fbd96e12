// Package engine runs the awexport tick loop.
//
// ARCHITECTURE:
//
// Single-Threaded Poll Loop:
// One Engine owns one state.Manager and drives it from a single goroutine.
// A tick fetches a batch of reconciled segments, classifies each one,
// feeds the result to the state manager and commits decisions to the
// ledger. There is no concurrency between segments or between ticks.
//
// Tick Flow:
// 1. pipeline.Fetch reads everything ending after LastTick
// 2. completed segments are processed in timestamp order
// 3. the in-progress segment, if any, is credited by delta only
// 4. every decision passes the commit guards before reaching the ledger
// 5. the AFK state is checked against the ledger's open entry
//
// Modes:
// Live mode polls forever with an open range and holds back the last
// segment as in-progress. Batch mode walks a closed [from, to) range,
// never skips segments, and is bounded by a tick quota.
//
// Consistency violations (state.ConsistencyError) go through the Asserter,
// which aborts, logs or collects them depending on its mode.
package engine
