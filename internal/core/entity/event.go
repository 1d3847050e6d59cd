package entity

import "costengine/internal/core/id"

// Event types written to the transactional outbox.
const (
	EventConsumptionRecorded = "ConsumptionRecorded"
	EventBackfillCreated     = "BackfillCreated"
	EventDataQualityFlagged  = "DataQualityFlagged"
)

// DomainEvent represents an event to be published via outbox.
type DomainEvent struct {
	// ID is optional. An event with a fixed ID is stored at most once, so
	// replays do not duplicate it; a nil ID gets a fresh one.
	ID            id.ID
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}
