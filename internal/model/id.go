package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used as a run identifier. ULIDs sort by
// creation time, so run listings stay chronological.
func NewID() string {
	return ulid.Make().String()
}
