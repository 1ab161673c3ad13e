package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, ts *testServer) StatusRes {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	ts.setupHandler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var res StatusRes
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	return res
}

func TestHandleStatusNoResult(t *testing.T) {
	ts := newTestServer(t, testSettings())
	ts.sys.On("GetStatus", mock.Anything).Return(types.SystemStatus{}, types.ErrUnavailable)

	res := getStatus(t, ts)
	assert.Nil(t, res.Result)
	assert.True(t, res.Stale)
	assert.True(t, res.LastSuccess.IsZero())
	assert.Nil(t, res.System)
	assert.Equal(t, "unavailable", res.SystemError)
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t, testSettings())
	ts.sys.On("GetStatus", mock.Anything).Return(types.SystemStatus{BatterySOC: 64}, nil)
	ts.latest.Store(&types.BoostResult{
		Timestamp:             testNow.Add(-time.Hour),
		CalculatedSOC:         45,
		AppliedSOC:            45,
		BatteryHoursRemaining: 5.5,
		AdjustedForecast:      hourly.FromMap(map[int]float64{10: 1000, 11: 2000}),
		LoadAverage:           hourly.Filled(500),
	})

	res := getStatus(t, ts)
	require.NotNil(t, res.Result)
	assert.Equal(t, 45, res.Result.AppliedSOC)
	assert.False(t, res.Stale)
	assert.Equal(t, 3000.0, res.AdjustedForecastWH)
	assert.Equal(t, 12000.0, res.LoadWH)
	require.NotNil(t, res.BatteryExhaustedAt)
	assert.True(t, testNow.Add(4*time.Hour+30*time.Minute).Equal(*res.BatteryExhaustedAt))
	require.NotNil(t, res.System)
	assert.Equal(t, 64.0, res.System.BatterySOC)
}

func TestHandleStatusStale(t *testing.T) {
	ts := newTestServer(t, testSettings())
	ts.sys.On("GetStatus", mock.Anything).Return(types.SystemStatus{}, nil)
	ts.latest.Store(&types.BoostResult{
		Timestamp:             testNow.Add(-27 * time.Hour),
		BatteryHoursRemaining: 24,
	})

	res := getStatus(t, ts)
	assert.True(t, res.Stale)
	assert.Nil(t, res.BatteryExhaustedAt)
}
