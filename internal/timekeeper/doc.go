// Package timekeeper tracks wall-clock time consumed by a sequence of named
// activities and reports how much of a run's budget is left, both globally
// and for the activity in progress.
//
// The keeper never preempts work. Exceeding a limit is only reported; code
// running inside an activity is expected to poll ExceededLimit or TimeLeft
// and return early.
package timekeeper
