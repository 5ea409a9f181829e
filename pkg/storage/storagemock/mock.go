package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetHub(ctx context.Context, hubID string) (types.Hub, error) {
	args := m.Called(ctx, hubID)
	if len(args) > 0 {
		return args.Get(0).(types.Hub), args.Error(1)
	}
	return types.Hub{}, nil
}

func (m *MockDatabase) ListHubs(ctx context.Context) ([]types.Hub, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Hub), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertHub(ctx context.Context, hub types.Hub) error {
	args := m.Called(ctx, hub)
	return args.Error(0)
}

func (m *MockDatabase) GetBattery(ctx context.Context, batteryID string) (types.BatteryState, error) {
	args := m.Called(ctx, batteryID)
	if len(args) > 0 {
		return args.Get(0).(types.BatteryState), args.Error(1)
	}
	return types.BatteryState{}, nil
}

func (m *MockDatabase) UpsertBattery(ctx context.Context, battery types.BatteryState) error {
	args := m.Called(ctx, battery)
	return args.Error(0)
}

func (m *MockDatabase) GetAllocation(ctx context.Context, hubID string, ts time.Time) (*types.AllocationRecord, error) {
	args := m.Called(ctx, hubID, ts)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.AllocationRecord), args.Error(1)
}

func (m *MockDatabase) CommitTick(ctx context.Context, battery types.BatteryState, record types.AllocationRecord) error {
	args := m.Called(ctx, battery, record)
	return args.Error(0)
}

func (m *MockDatabase) GetAllocationHistory(ctx context.Context, hubID string, start, end time.Time) ([]types.AllocationRecord, error) {
	args := m.Called(ctx, hubID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.AllocationRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestForecast(ctx context.Context, batteryID string) (*types.Forecast, error) {
	args := m.Called(ctx, batteryID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.Forecast), args.Error(1)
}

func (m *MockDatabase) UpsertForecast(ctx context.Context, forecast types.Forecast) error {
	args := m.Called(ctx, forecast)
	return args.Error(0)
}

func (m *MockDatabase) SuggestionExists(ctx context.Context, batteryID string, typ types.SuggestionType, day string) (bool, error) {
	args := m.Called(ctx, batteryID, typ, day)
	if len(args) > 0 {
		return args.Bool(0), args.Error(1)
	}
	return false, nil
}

func (m *MockDatabase) InsertSuggestion(ctx context.Context, suggestion types.Suggestion) error {
	args := m.Called(ctx, suggestion)
	return args.Error(0)
}

func (m *MockDatabase) GetSuggestion(ctx context.Context, id string) (types.Suggestion, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.Suggestion), args.Error(1)
	}
	return types.Suggestion{}, nil
}

func (m *MockDatabase) UpdateSuggestion(ctx context.Context, suggestion types.Suggestion, battery *types.BatteryState) error {
	args := m.Called(ctx, suggestion, battery)
	return args.Error(0)
}

func (m *MockDatabase) ListSuggestions(ctx context.Context, batteryID string) ([]types.Suggestion, error) {
	args := m.Called(ctx, batteryID)
	if len(args) > 0 {
		return args.Get(0).([]types.Suggestion), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) DeleteSuggestionsBefore(ctx context.Context, t time.Time) (int, error) {
	args := m.Called(ctx, t)
	if len(args) > 0 {
		return args.Int(0), args.Error(1)
	}
	return 0, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
