package v1_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/movement"
	"costengine/internal/domain/run"
	v1 "costengine/internal/infrastructure/http/v1"
	"costengine/internal/infrastructure/metrics"
	"costengine/pkg/logger"
)

type apiFixture struct {
	*apptest.Fixture
	router http.Handler
	beans  id.ID
}

func newAPI(t *testing.T) *apiFixture {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	f.Receive(f.Branch, beans, "10", "100", apptest.At("2026-03-01", 8, 0))
	f.Receive(f.Branch, beans, "10", "120", apptest.At("2026-03-02", 8, 0))
	espresso := f.ItemRecipe(apptest.Line(beans, "5", "G"))
	f.Sell(f.Branch, espresso, "3", apptest.At("2026-03-14", 9, 0))

	return &apiFixture{
		Fixture: f,
		router: v1.NewRouter(v1.RouterConfig{
			App:     f.App,
			Logger:  logger.Nop(),
			Metrics: metrics.New().Handler(),
		}),
		beans: beans,
	}
}

func (a *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	a.T.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestRouter_RunThenReport(t *testing.T) {
	a := newAPI(t)
	branch := a.Branch.ID.String()

	w := a.do(http.MethodPost, "/api/v1/runs", map[string]any{
		"branchIds": []string{branch},
		"from":      "2026-03-14",
		"to":        "2026-03-14",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var summary run.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.UnitsProcessed)
	assert.Equal(t, "1600", summary.TotalCost.String())

	w = a.do(http.MethodGet, "/api/v1/branches/"+branch+"/cost?date=2026-03-14", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cost movement.DailyCost
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cost))
	assert.Equal(t, "1600", cost.Cost.String())
	assert.Len(t, cost.Lines, 1)

	w = a.do(http.MethodGet, "/api/v1/branches/"+branch+"/consistency", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Consistent bool `json:"consistent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Consistent)

	w = a.do(http.MethodGet, "/api/v1/branches/"+branch+"/audit?date=2026-03-14&ingredient="+a.beans.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var audits []run.AllocationAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audits))
	require.Len(t, audits, 1)
	assert.Equal(t, summary.RunID, audits[0].RunID)
	require.NotNil(t, audits[0].Plan)
	assert.Len(t, audits[0].Plan.Entries, 2)
}

func TestRouter_Validation(t *testing.T) {
	a := newAPI(t)
	branch := a.Branch.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"no branches", http.MethodPost, "/api/v1/runs", map[string]any{"from": "2026-03-14", "to": "2026-03-14"}},
		{"reversed range", http.MethodPost, "/api/v1/runs", map[string]any{
			"branchIds": []string{branch}, "from": "2026-03-15", "to": "2026-03-14",
		}},
		{"bad date", http.MethodPost, "/api/v1/runs", map[string]any{
			"branchIds": []string{branch}, "from": "14.03.2026", "to": "2026-03-14",
		}},
		{"bad branch id", http.MethodGet, "/api/v1/branches/nope/cost?date=2026-03-14", nil},
		{"missing date", http.MethodGet, "/api/v1/branches/" + branch + "/cost", nil},
		{"unconfirmed reset", http.MethodPost, "/api/v1/branches/" + branch + "/reset", map[string]any{
			"from": "2026-03-14", "dryRun": false,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, apperror.CodeValidation, errorCode(t, w))
		})
	}
}

func TestRouter_ResetDryRunKeepsLedger(t *testing.T) {
	a := newAPI(t)
	a.MustRun("2026-03-14", "2026-03-14")
	before := len(a.Store.Movements(a.Ctx))

	w := a.do(http.MethodPost, "/api/v1/branches/"+a.Branch.ID.String()+"/reset", map[string]any{
		"from": "2026-03-14",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report run.ResetReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.MovementsDeleted)
	assert.Equal(t, 1, report.UnitsDeleted)
	assert.Len(t, a.Store.Movements(a.Ctx), before)

	w = a.do(http.MethodPost, "/api/v1/branches/"+a.Branch.ID.String()+"/reset", map[string]any{
		"from": "2026-03-14", "dryRun": false, "confirm": "RESET",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, a.Store.Movements(a.Ctx), before-2)
	a.RequireConsistent(a.Branch)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "costengine_backfills_total")
}

func TestRouter_ReceiveWasteAndStock(t *testing.T) {
	a := newAPI(t)
	base := "/api/v1/branches/" + a.Branch.ID.String()
	stockAt := func(asOf string) float64 {
		w := a.do(http.MethodGet, base+"/stock?ingredient="+a.beans.String()+"&asOf="+asOf, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Available float64 `json:"available"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body.Available
	}

	w := a.do(http.MethodPost, base+"/receipts", map[string]any{
		"ingredientId": a.beans,
		"quantity":     5,
		"unitCost":     "130",
		"receivedAt":   "2026-03-03T08:00:00Z",
		"sourceRef":    "INV-7",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 25.0, stockAt("2026-03-10T00:00:00Z"))
	assert.Equal(t, 10.0, stockAt("2026-03-01T12:00:00Z"))

	w = a.do(http.MethodPost, base+"/wastage", map[string]any{
		"ingredientId": a.beans,
		"quantity":     30,
		"at":           "2026-03-10T00:00:00Z",
		"reason":       "spoiled",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeInsufficientStock, errorCode(t, w))

	w = a.do(http.MethodPost, base+"/wastage", map[string]any{
		"ingredientId": a.beans,
		"quantity":     2,
		"at":           "2026-03-10T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, base+"/wastage", map[string]any{
		"ingredientId": a.beans,
		"quantity":     2,
		"at":           "2026-03-10T00:00:00Z",
		"reason":       "spoiled",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var moves []entity.StockMovement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &moves))
	require.Len(t, moves, 1)
	assert.Equal(t, entity.MovementWastage, moves[0].Type)
	assert.Equal(t, "100", moves[0].UnitCost.String())

	assert.Equal(t, 23.0, stockAt("2026-03-10T00:00:00Z"))
	a.RequireConsistent(a.Branch)
}
