package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const forecastSolarBaseURL = "https://api.forecast.solar"

// Plane is one panel array.
type Plane struct {
	Declination float64 `json:"declination"`
	Azimuth     float64 `json:"azimuth"`
	KWP         float64 `json:"kwp"`
}

// ForecastSolar fetches estimates from the public Forecast.Solar API. The
// estimates of every plane are summed.
type ForecastSolar struct {
	*client
	baseURL   string
	apiKey    string
	latitude  float64
	longitude float64
	planes    []Plane
}

type forecastSolarResponse struct {
	// watt hours produced in the period ending at each local timestamp
	Result  map[string]float64 `json:"result"`
	Message struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Text string `json:"text"`
		Info struct {
			Timezone string `json:"timezone"`
		} `json:"info"`
	} `json:"message"`
}

func configuredForecastSolar(cacheTTL *time.Duration) *ForecastSolar {
	apiKey := lflag.String("forecast-solar-api-key", "", "Forecast.Solar API key, empty uses the public tier")
	baseURL := lflag.String("forecast-solar-url", forecastSolarBaseURL, "Forecast.Solar API base URL")
	var location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	lflag.JSON(&location, "forecast-solar-location", location, `site location as JSON, e.g. {"latitude":52.1,"longitude":4.3}`)
	var planes []Plane
	lflag.JSON(&planes, "forecast-solar-planes", planes, `JSON list of panel arrays, e.g. [{"declination":30,"azimuth":0,"kwp":4.2}]`)

	f := &ForecastSolar{}
	lflag.Do(func() {
		f.client = newClient(*cacheTTL)
		f.baseURL = strings.TrimRight(*baseURL, "/")
		f.apiKey = *apiKey
		f.latitude = location.Latitude
		f.longitude = location.Longitude
		f.planes = planes
	})
	return f
}

// NewForecastSolar returns a Forecast.Solar provider.
func NewForecastSolar(baseURL, apiKey string, latitude, longitude float64, planes []Plane, cacheTTL time.Duration) *ForecastSolar {
	return &ForecastSolar{
		client:    newClient(cacheTTL),
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		latitude:  latitude,
		longitude: longitude,
		planes:    planes,
	}
}

// Configured reports whether at least one plane is set.
func (f *ForecastSolar) Configured() bool {
	return len(f.planes) > 0
}

func (f *ForecastSolar) Name() string {
	return types.ForecasterForecastSolar
}

func (f *ForecastSolar) url(p Plane) string {
	base := f.baseURL
	if f.apiKey != "" {
		base += "/" + f.apiKey
	}
	return fmt.Sprintf("%s/estimate/watthours/period/%g/%g/%g/%g/%g", base, f.latitude, f.longitude, p.Declination, p.Azimuth, p.KWP)
}

// Forecast returns the estimated PV energy per hour of day in loc.
func (f *ForecastSolar) Forecast(ctx context.Context, day types.Day, loc *time.Location) (hourly.Series, error) {
	var out hourly.Series
	if !f.Configured() {
		return out, types.ErrNoForecastSource
	}
	for _, p := range f.planes {
		body, err := f.get(ctx, f.url(p), nil)
		if err != nil {
			return hourly.Series{}, fmt.Errorf("forecast.solar: %w", err)
		}
		var resp forecastSolarResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return hourly.Series{}, fmt.Errorf("%w: failed to decode forecast.solar response: %w", types.ErrUnavailable, err)
		}
		siteLoc := loc
		if resp.Message.Info.Timezone != "" {
			if l, err := time.LoadLocation(resp.Message.Info.Timezone); err == nil {
				siteLoc = l
			}
		}
		for ts, wh := range resp.Result {
			end, err := time.ParseInLocation(time.DateTime, ts, siteLoc)
			if err != nil {
				return hourly.Series{}, fmt.Errorf("%w: invalid timestamp %q", types.ErrUnavailable, ts)
			}
			// attribute the period to the hour it ends in, 07:00:00 belongs to 06
			at := end.Add(-time.Second).In(loc)
			if types.DayOf(at) != day {
				continue
			}
			out.Add(at.Hour(), wh)
		}
	}
	if out.Len() == 0 {
		return out, fmt.Errorf("%w: forecast.solar returned no periods for %s", types.ErrUnavailable, day)
	}
	// hours without any period are night, not missing
	return hourly.Filled(0).Merge(out), nil
}
