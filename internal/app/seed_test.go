package app_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app"
	"costengine/internal/app/apptest"
	"costengine/internal/core/entity"
	"costengine/internal/domain/run"
)

const seedDoc = `{
  "branches": [
    {"id": "0191d2a0-0000-7000-8000-000000000001", "code": "NORTH", "name": "North", "timezone": "Europe/Berlin"}
  ],
  "ingredients": [
    {"id": "0191d2a0-0000-7000-8000-0000000000a1", "code": "MILK", "name": "Milk", "baseUnit": "ML", "active": true}
  ],
  "conversions": [
    {"fromUnit": "L", "toUnit": "ML", "factor": "1000"}
  ],
  "recipes": [
    {
      "id": "0191d2a0-0000-7000-8000-0000000000c1",
      "target": {"kind": "ITEM", "id": "0191d2a0-0000-7000-8000-0000000000b1"},
      "name": "Latte",
      "active": true,
      "lines": [{"lineNo": 1, "ingredientId": "0191d2a0-0000-7000-8000-0000000000a1", "inputQty": "0.2", "inputUnit": "L"}]
    }
  ],
  "sales": [
    {
      "id": "0191d2a0-0000-7000-8000-0000000000d1",
      "orderId": "0191d2a0-0000-7000-8000-0000000000e1",
      "branchId": "0191d2a0-0000-7000-8000-000000000001",
      "itemId": "0191d2a0-0000-7000-8000-0000000000b1",
      "qtySold": 2,
      "soldAt": "2026-03-14T10:00:00+01:00",
      "status": "COMPLETED"
    }
  ],
  "receipts": [
    {
      "branchId": "0191d2a0-0000-7000-8000-000000000001",
      "ingredientId": "0191d2a0-0000-7000-8000-0000000000a1",
      "quantity": 1000,
      "unitCost": "0.002",
      "receivedAt": "2026-03-10T07:00:00+01:00",
      "sourceRef": "INV-1"
    },
    {
      "branchId": "0191d2a0-0000-7000-8000-0000000000ff",
      "ingredientId": "0191d2a0-0000-7000-8000-0000000000a1",
      "quantity": 5,
      "unitCost": "1",
      "receivedAt": "2026-03-10T07:00:00Z"
    }
  ]
}`

func TestSeed_SkipPolicyThenRun(t *testing.T) {
	f := apptest.New(t)
	data, err := app.DecodeSeed(strings.NewReader(seedDoc))
	require.NoError(t, err)

	report, err := f.App.Seed(f.Ctx, data, run.OnErrorSkip)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"branches":    1,
		"ingredients": 1,
		"conversions": 1,
		"recipes":     1,
		"sales":       1,
		"receipts":    1,
	}, report.Applied)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "receipts", report.Failures[0].Section)
	assert.Equal(t, 1, report.Failures[0].Index)

	north := entity.Branch{ID: data.Branches[0].ID, Timezone: "Europe/Berlin"}
	summary := f.MustRun("2026-03-14", "2026-03-14", north)
	assert.Equal(t, 1, summary.UnitsProcessed)
	assert.Zero(t, summary.BackfillsCreated)
	assert.Equal(t, "0.8", summary.TotalCost.String())
	f.RequireConsistent(north)
}

func TestSeed_FailPolicyStops(t *testing.T) {
	f := apptest.New(t)
	data, err := app.DecodeSeed(strings.NewReader(seedDoc))
	require.NoError(t, err)

	report, err := f.App.Seed(f.Ctx, data, run.OnErrorFail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipts[1]")
	assert.Equal(t, 1, report.Applied["receipts"])
}

func TestDecodeSeed_RejectsUnknownFields(t *testing.T) {
	_, err := app.DecodeSeed(strings.NewReader(`{"branches": [], "tenants": []}`))
	require.Error(t, err)
}
