package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a job identifier. ULIDs embed
// a millisecond timestamp followed by random bits, so IDs sort by creation
// time and are safe to generate concurrently.
func NewID() string {
	return ulid.Make().String()
}
