package forecast

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolcast(t *testing.T) {
	ctx := context.Background()
	day, err := types.ParseDay("2024-06-02")
	require.NoError(t, err)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/rooftop_sites/site-1/forecasts", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"forecasts":[
			{"pv_estimate":2,"pv_estimate10":1,"pv_estimate90":3,"period_end":"2024-06-01T23:30:00.0000000Z","period":"PT30M"},
			{"pv_estimate":2,"pv_estimate10":1,"pv_estimate90":3,"period_end":"2024-06-02T10:30:00.0000000Z","period":"PT30M"},
			{"pv_estimate":4,"pv_estimate10":2,"pv_estimate90":6,"period_end":"2024-06-02T11:00:00.0000000Z","period":"PT30M"},
			{"pv_estimate":1,"pv_estimate10":1,"pv_estimate90":1,"period_end":"2024-06-03T00:30:00.0000000Z","period":"PT30M"}
		]}`)
	}))
	defer server.Close()

	t.Run("p50 buckets by period start", func(t *testing.T) {
		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Minute)
		out, err := s.Forecast(ctx, day, time.UTC)
		require.NoError(t, err)
		// 2kW and 4kW for half an hour each
		assert.Equal(t, 3000.0, out.At(10))
		// hours without periods are zero like forecast.solar
		assert.True(t, out.Complete())
		assert.Equal(t, 0.0, out.At(11))
		v, ok := out.Get(3)
		assert.True(t, ok)
		assert.Equal(t, 0.0, v)
	})

	t.Run("percentile interpolation", func(t *testing.T) {
		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 30, time.Minute)
		out, err := s.Forecast(ctx, day, time.UTC)
		require.NoError(t, err)
		// halfway between p10 and p50: 1.5kW and 3kW
		assert.InDelta(t, 2250.0, out.At(10), 1e-9)

		s = NewSolcast(server.URL, "secret", []string{"site-1"}, 90, time.Minute)
		out, err = s.Forecast(ctx, day, time.UTC)
		require.NoError(t, err)
		assert.InDelta(t, 4500.0, out.At(10), 1e-9)
	})

	t.Run("day is taken in the local zone", func(t *testing.T) {
		loc := time.FixedZone("plus1", 3600)
		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Minute)
		out, err := s.Forecast(ctx, day, loc)
		require.NoError(t, err)
		// 23:00Z on the 1st is midnight local on the 2nd
		assert.Equal(t, 1000.0, out.At(0))
		assert.Equal(t, 3000.0, out.At(11))
		assert.True(t, out.Complete())
		assert.Equal(t, 0.0, out.At(23))
	})

	t.Run("cached", func(t *testing.T) {
		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Hour)
		before := hits.Load()
		_, err := s.Forecast(ctx, day, time.UTC)
		require.NoError(t, err)
		_, err = s.Forecast(ctx, day+1, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())
	})

	t.Run("not configured", func(t *testing.T) {
		s := NewSolcast(server.URL, "", nil, 50, time.Minute)
		assert.False(t, s.Configured())
		_, err := s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrNoForecastSource)
	})
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	day, err := types.ParseDay("2024-06-02")
	require.NoError(t, err)

	t.Run("rate limited backs off", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Minute)
		_, err := s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrRateLimited)
		assert.True(t, Transient(err))

		_, err = s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrRateLimited)
		assert.Equal(t, int32(1), hits.Load())

		// once the window passes we try again
		s.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
		_, err = s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrRateLimited)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Minute)
		_, err := s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrUnavailable)
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"forecasts":`)
		}))
		defer server.Close()

		s := NewSolcast(server.URL, "secret", []string{"site-1"}, 50, time.Minute)
		_, err := s.Forecast(ctx, day, time.UTC)
		assert.ErrorIs(t, err, types.ErrUnavailable)
	})
}

func TestForecastSolar(t *testing.T) {
	ctx := context.Background()
	day, err := types.ParseDay("2024-06-02")
	require.NoError(t, err)

	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		fmt.Fprint(w, `{"result":{
			"2024-06-02 05:21:00":0,
			"2024-06-02 06:00:00":40,
			"2024-06-02 07:00:00":250,
			"2024-06-03 06:00:00":99
		},"message":{"code":0,"type":"success","info":{"timezone":"UTC"}}}`)
	}))
	defer server.Close()

	f := NewForecastSolar(server.URL, "", 52.5, 4.25, []Plane{
		{Declination: 30, Azimuth: -90, KWP: 2},
		{Declination: 30, Azimuth: 90, KWP: 2.5},
	}, time.Minute)
	require.True(t, f.Configured())

	out, err := f.Forecast(ctx, day, time.UTC)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/estimate/watthours/period/52.5/4.25/30/-90/2",
		"/estimate/watthours/period/52.5/4.25/30/90/2.5",
	}, paths)
	assert.True(t, out.Complete())
	// both planes return the same body
	assert.Equal(t, 80.0, out.At(5))
	assert.Equal(t, 500.0, out.At(6))
	assert.Equal(t, 0.0, out.At(12))
}

func TestMap(t *testing.T) {
	m := NewMap()
	_, err := m.Provider("")
	assert.ErrorIs(t, err, types.ErrNoForecastSource)

	s := NewSolcast("http://localhost", "key", []string{"a"}, 25, time.Minute)
	m.SetProvider(s)
	p, err := m.Provider("")
	require.NoError(t, err)
	assert.Equal(t, types.ForecasterSolcast, p.Name())

	_, err = m.Provider(types.ForecasterForecastSolar)
	assert.ErrorIs(t, err, types.ErrNoForecastSource)

	m.SetProvider(NewForecastSolar("http://localhost", "", 1, 1, []Plane{{KWP: 1}}, time.Minute))
	assert.Equal(t, []string{types.ForecasterForecastSolar, types.ForecasterSolcast}, m.Names())
	_, err = m.Provider("")
	assert.ErrorIs(t, err, types.ErrNoForecastSource)
}
