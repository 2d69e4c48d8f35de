// Package searchspace loads the table of candidate algorithms and their
// tunable parameter ranges that a search run draws candidates from.
package searchspace
