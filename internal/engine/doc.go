// Package engine is the stats-polling and script-provisioning reconciliation
// engine.
//
// One Engine owns:
//   - the poll scheduler (refresh interval, repeating timer),
//   - the stats fetcher (poll lock, probe invocation, error classification),
//   - the version reconciler (current vs latest, update banner),
//   - the shared-workspace visibility sync.
//
// State lives on the Engine value; several engines can run side by side.
// The poll lock is an admission gate, not a queue: a poll that arrives while
// another is in flight is dropped.
package engine
