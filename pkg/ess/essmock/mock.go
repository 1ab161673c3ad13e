package essmock

import (
	"context"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockSystem is a testify mock of ess.System.
type MockSystem struct {
	mock.Mock
}

func (m *MockSystem) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SystemStatus), args.Error(1)
	}
	return types.SystemStatus{}, nil
}

func (m *MockSystem) SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error {
	args := m.Called(ctx, start, stop, soc)
	return args.Error(0)
}

func (m *MockSystem) DisableTimeOfUse(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSystem) HourlyUsage(ctx context.Context, day types.Day, loc *time.Location) (types.HourlyUsage, error) {
	args := m.Called(ctx, day, loc)
	if len(args) > 0 {
		return args.Get(0).(types.HourlyUsage), args.Error(1)
	}
	return types.HourlyUsage{Day: day}, nil
}

func (m *MockSystem) Close() error {
	args := m.Called()
	return args.Error(0)
}
