// Package evaluator defines the interface that scores search candidates,
// along with a registry that resolves evaluators by name and a synthetic
// evaluator used when no real training backend is wired in.
package evaluator
