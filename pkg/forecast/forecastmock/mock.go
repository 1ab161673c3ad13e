package forecastmock

import (
	"context"
	"time"

	"github.com/gridboost/gridboost/pkg/forecast"
	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
	ProviderName string
}

var _ forecast.Provider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return types.ForecasterSolcast
	}
	return m.ProviderName
}

func (m *MockProvider) Forecast(ctx context.Context, day types.Day, loc *time.Location) (hourly.Series, error) {
	args := m.Called(ctx, day, loc)
	return args.Get(0).(hourly.Series), args.Error(1)
}
