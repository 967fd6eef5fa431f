package model

import "github.com/oklog/ulid/v2"

// NewID generates a ULID string for run and task identifiers. ULIDs sort
// lexicographically by creation time, which keeps run listings ordered.
func NewID() string {
	return ulid.Make().String()
}
