// Package engine provides the asynchronous run engine. It executes each run
// as a search under its own TimeKeeper, streams progress events to
// subscribers, and records the run's phases, evaluations and outcome in the
// store as they happen.
package engine
