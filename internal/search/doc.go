// Package search drives a time-budgeted random search. A run is split into
// three activities on a timekeeper.TimeKeeper: preprocessing, search and
// postprocess. The search loop polls the keeper between evaluations and stops
// on its own once a budget is spent; nothing is preempted.
package search
