// Package id issues the identifiers of engine records. Batches, movements and
// backfill receipts use UUIDv7, so ids sort in creation order.
package id

import (
	"github.com/google/uuid"
)

// ID is an alias, so pgx and encoding/json handle it as a uuid.UUID.
type ID = uuid.UUID

// New returns a UUIDv7, or a random UUID when the clock source fails.
// The leading 48 bits are a Unix millisecond timestamp: batches received in
// the same millisecond still get distinct ids, and the FIFO tie-break on id
// follows insertion order. B-tree inserts on movement ids stay append-only.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		// Only fails when the random source does.
		return uuid.New()
	}
	return v
}

// namespace scopes name-based ids to this engine.
var namespace = uuid.MustParse("6f1c2d5e-8a3b-4c7d-9e0f-1a2b3c4d5e6f")

// FromName returns a UUIDv5 derived from name. The same name always yields
// the same id, which makes it usable as a dedupe key.
func FromName(name string) ID {
	return uuid.NewSHA1(namespace, []byte(name))
}

// Parse validates s, e.g. a path parameter.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse is for fixtures and constants.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil is the zero id; events with a nil ID get a fresh one on publish.
func Nil() ID {
	return uuid.Nil
}
