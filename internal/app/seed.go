package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/run"
	"costengine/pkg/logger"
)

// SeedReceipt is a real receipt to book through the ledger.
type SeedReceipt struct {
	BranchID     id.ID          `json:"branchId"`
	IngredientID id.ID          `json:"ingredientId"`
	Quantity     types.Quantity `json:"quantity"`
	UnitCost     types.Money    `json:"unitCost"`
	ReceivedAt   time.Time      `json:"receivedAt"`
	SourceRef    string         `json:"sourceRef"`
}

// SeedData is the document loaded by the seed command. Sections are
// applied in field order, so references always point backwards.
type SeedData struct {
	Branches    []entity.Branch         `json:"branches"`
	Ingredients []entity.Ingredient     `json:"ingredients"`
	Conversions []entity.UnitConversion `json:"conversions"`
	Recipes     []entity.Recipe         `json:"recipes"`
	Sales       []entity.SaleLine       `json:"sales"`
	Receipts    []SeedReceipt           `json:"receipts"`
}

// DecodeSeed reads a seed document, rejecting unknown fields.
func DecodeSeed(r io.Reader) (*SeedData, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var data SeedData
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &data, nil
}

// SeedFailure is one record that could not be applied.
type SeedFailure struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
	Error   string `json:"error"`
}

// SeedReport counts applied records per section.
type SeedReport struct {
	Applied  map[string]int `json:"applied"`
	Failures []SeedFailure  `json:"failures,omitempty"`
}

// Seed applies data through the catalog admin and the ledger. With
// run.OnErrorSkip a failing record is logged and reported; with
// run.OnErrorFail the first failure is returned.
func (a *App) Seed(ctx context.Context, data *SeedData, policy run.ErrorPolicy) (*SeedReport, error) {
	report := &SeedReport{Applied: make(map[string]int)}
	apply := func(section string, index int, err error) error {
		if err == nil {
			report.Applied[section]++
			return nil
		}
		if policy == run.OnErrorFail {
			return fmt.Errorf("seed %s[%d]: %w", section, index, err)
		}
		logger.Warn(ctx, "seed record skipped", "section", section, "index", index, "error", err)
		report.Failures = append(report.Failures, SeedFailure{Section: section, Index: index, Error: err.Error()})
		return nil
	}

	admin := a.Stores.Admin
	for i, b := range data.Branches {
		if err := apply("branches", i, admin.PutBranch(ctx, b)); err != nil {
			return report, err
		}
	}
	for i, ing := range data.Ingredients {
		if err := apply("ingredients", i, admin.PutIngredient(ctx, ing)); err != nil {
			return report, err
		}
	}
	for i, c := range data.Conversions {
		if err := apply("conversions", i, admin.PutConversion(ctx, c)); err != nil {
			return report, err
		}
	}
	for i := range data.Recipes {
		r := data.Recipes[i]
		err := r.Validate(ctx)
		if err == nil {
			err = admin.PutRecipe(ctx, r)
		}
		if err := apply("recipes", i, err); err != nil {
			return report, err
		}
	}
	for i, l := range data.Sales {
		if err := apply("sales", i, admin.PutSaleLine(ctx, l)); err != nil {
			return report, err
		}
	}

	for i, r := range data.Receipts {
		_, err := a.Receive(ctx, ledger.ReceiveRequest{
			BranchID:     r.BranchID,
			IngredientID: r.IngredientID,
			Quantity:     r.Quantity,
			UnitCost:     r.UnitCost,
			ReceivedAt:   r.ReceivedAt,
			SourceRef:    r.SourceRef,
		})
		if err := apply("receipts", i, err); err != nil {
			return report, err
		}
	}
	return report, nil
}
