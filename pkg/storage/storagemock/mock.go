package storagemock

import (
	"context"
	"time"

	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetPVHistory(ctx context.Context) (types.PVHistory, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.PVHistory), args.Int(1), args.Error(2)
	}
	return types.PVHistory{}, 0, nil
}

func (m *MockDatabase) SetPVHistory(ctx context.Context, history types.PVHistory, version int) error {
	args := m.Called(ctx, history, version)
	return args.Error(0)
}

func (m *MockDatabase) GetLoadHistory(ctx context.Context) (types.LoadHistory, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.LoadHistory), args.Int(1), args.Error(2)
	}
	return types.LoadHistory{}, 0, nil
}

func (m *MockDatabase) SetLoadHistory(ctx context.Context, history types.LoadHistory, version int) error {
	args := m.Called(ctx, history, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertResult(ctx context.Context, result types.BoostResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestResult(ctx context.Context) (*types.BoostResult, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		r, _ := args.Get(0).(*types.BoostResult)
		return r, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetResultHistory(ctx context.Context, start, end time.Time) ([]types.BoostResult, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.BoostResult), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetESSMockState(ctx context.Context) (types.ESSMockState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ESSMockState), args.Error(1)
	}
	return types.ESSMockState{}, nil
}

func (m *MockDatabase) UpdateESSMockState(ctx context.Context, state types.ESSMockState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
