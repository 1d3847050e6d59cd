package run

import (
	"strings"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
)

// ConsumptionRecordedPayload is published once per recorded unit.
type ConsumptionRecordedPayload struct {
	BranchID       id.ID          `json:"branchId"`
	IngredientID   id.ID          `json:"ingredientId"`
	Date           types.Date     `json:"date"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Quantity       types.Quantity `json:"quantity"`
	Cost           types.Money    `json:"cost"`
	MovementIDs    []id.ID        `json:"movementIds"`
}

func unitEvents(unit entity.UnitKey, key string, plan *ledger.Plan, movements []entity.StockMovement, receipt *entity.BackfillReceipt, flags []entity.Flag) []entity.DomainEvent {
	movementIDs := make([]id.ID, len(movements))
	for i := range movements {
		movementIDs[i] = movements[i].ID
	}

	events := []entity.DomainEvent{{
		AggregateType: "ConsumptionUnit",
		AggregateID:   movements[0].ID,
		EventType:     entity.EventConsumptionRecorded,
		Payload: ConsumptionRecordedPayload{
			BranchID:       unit.BranchID,
			IngredientID:   unit.IngredientID,
			Date:           unit.Date,
			IdempotencyKey: key,
			Quantity:       plan.Allocated(),
			Cost:           plan.TotalCost(),
			MovementIDs:    movementIDs,
		},
	}}
	if receipt != nil {
		events = append(events, entity.DomainEvent{
			AggregateType: "BackfillReceipt",
			AggregateID:   receipt.ID,
			EventType:     entity.EventBackfillCreated,
			Payload:       receipt,
		})
	}
	for _, f := range flags {
		events = append(events, flagEvent(f))
	}
	return events
}

// flagEvent is keyed by what was flagged, so re-running a day publishes
// the same flag once.
func flagEvent(f entity.Flag) entity.DomainEvent {
	return entity.DomainEvent{
		ID:            flagEventID(f),
		AggregateType: "Branch",
		AggregateID:   f.BranchID,
		EventType:     entity.EventDataQualityFlagged,
		Payload:       f,
	}
}

func flagEventID(f entity.Flag) id.ID {
	var item, ing string
	if f.ItemID != nil {
		item = f.ItemID.String()
	}
	if f.IngredientID != nil {
		ing = f.IngredientID.String()
	}
	return id.FromName(strings.Join([]string{
		entity.EventDataQualityFlagged, string(f.Code), f.BranchID.String(), f.Date.String(), item, ing, f.SourceRef,
	}, "|"))
}
