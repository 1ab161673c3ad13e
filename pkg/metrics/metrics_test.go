package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	ts := time.Unix(1750000000, 0)
	r.RecordResult(types.BoostResult{
		Timestamp:     ts,
		CalculatedSOC: 42,
		AppliedSOC:    40,
		RequiredPct:   21.5,
		PVRatio:       hourly.FromMap(map[int]float64{10: 1.25}),
		Written:       true,
	})
	r.RecordResult(types.BoostResult{Timestamp: ts, WriteError: "boom"})
	r.RecordTickFailure("update")

	assert.Equal(t, 0.0, testutil.ToFloat64(r.calculatedSOC))
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 1.25, testutil.ToFloat64(r.pvRatio.WithLabelValues("10")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tickFailures.WithLabelValues("update")))

	expected := `
# HELP gridboost_tick_failures_total Ticks that failed, by kind
# TYPE gridboost_tick_failures_total counter
gridboost_tick_failures_total{tick="update"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(r.tickFailures, strings.NewReader(expected)))

	t.Run("Handler", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "gridboost_applied_soc_percent 0")
	})

	t.Run("ReuseRegistered", func(t *testing.T) {
		r2, err := New(reg)
		require.NoError(t, err)
		assert.Same(t, r.tickFailures, r2.tickFailures)
	})

	t.Run("Nil", func(t *testing.T) {
		var n *Recorder
		n.RecordResult(types.BoostResult{})
		n.RecordTickFailure("update")
		assert.NotNil(t, n.Handler())
	})
}
