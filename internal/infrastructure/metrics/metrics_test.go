package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/entity"
)

func TestCollector_Counts(t *testing.T) {
	c := New()

	c.UnitFinished(entity.UnitRecorded, 5*time.Millisecond)
	c.UnitFinished(entity.UnitRecorded, 7*time.Millisecond)
	c.UnitFinished(entity.UnitFailed, time.Millisecond)
	c.UnitSkipped()
	c.BackfillCreated()
	c.ConflictRetried()
	c.ConflictRetried()
	c.FlagRaised(entity.FlagRecipeMissing)
	c.FlagRaised(entity.FlagBackfillUsed)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.units.WithLabelValues("RECORDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backfills))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flags.WithLabelValues("RECIPE_MISSING", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flags.WithLabelValues("BACKFILL_USED", "info")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.BackfillCreated()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "costengine_backfills_total 1"), body)
	assert.Contains(t, body, "go_goroutines")
}
