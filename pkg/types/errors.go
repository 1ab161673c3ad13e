package types

import (
	"errors"

	"github.com/gridboost/gridboost/pkg/hourly"
)

var (
	// ErrNoForecastSource means no forecaster is configured or reachable, so
	// the boost cannot be solved.
	ErrNoForecastSource = errors.New("no forecast source")
	// ErrEmptySeries is returned when a mean is taken over zero samples.
	ErrEmptySeries = hourly.ErrEmptySeries
	// ErrUnknownSample means an actual was recorded for a day and hour that
	// has no forecast.
	ErrUnknownSample = errors.New("unknown sample")
	// ErrUnavailable is a transient collaborator failure.
	ErrUnavailable = errors.New("unavailable")
	// ErrRateLimited means a collaborator asked us to back off.
	ErrRateLimited = errors.New("rate limited")
)
