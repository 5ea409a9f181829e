package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/locker"
	"github.com/raterudder/energyhub/pkg/notify"
	"github.com/raterudder/energyhub/pkg/recorder"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/suggestion"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var tickAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type sourceFunc func(ctx context.Context, hub types.Hub, at time.Time, interval time.Duration) (types.TickInput, error)

func (f sourceFunc) Next(ctx context.Context, hub types.Hub, at time.Time, interval time.Duration) (types.TickInput, error) {
	return f(ctx, hub, at, interval)
}

func fixedInput(in types.TickInput) sourceFunc {
	return func(context.Context, types.Hub, time.Time, time.Duration) (types.TickInput, error) {
		return in, nil
	}
}

type mockSuggester struct {
	mock.Mock
}

func (m *mockSuggester) Generate(ctx context.Context, batteryID string) ([]types.Suggestion, error) {
	args := m.Called(ctx, batteryID)
	sugs, _ := args.Get(0).([]types.Suggestion)
	return sugs, args.Error(1)
}

func (m *mockSuggester) CleanOldSuggestions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func addHub(t *testing.T, db storage.Database, n string, chargeKWH float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.UpsertHub(ctx, types.Hub{ID: "hub" + n, UserID: "user" + n, BatteryID: "bat" + n}))
	require.NoError(t, db.UpsertBattery(ctx, types.BatteryState{
		ID:               "bat" + n,
		HubID:            "hub" + n,
		ChargeKWH:        chargeKWH,
		CapacityMaxKWH:   10,
		ChargeRateKWH:    3,
		DischargeRateKWH: 3,
		ThresholdMin:     20,
		ThresholdMax:     100,
	}))
}

func newScheduler(db storage.Database, source TickSource) *Scheduler {
	locks := locker.New()
	return New(
		db,
		source,
		recorder.New(db, locks, time.UTC),
		suggestion.New(db, notify.LogSink{}, locks, time.UTC),
		Config{TickInterval: time.Minute, Parallelism: 2},
	)
}

func TestTickAll(t *testing.T) {
	ctx := context.Background()

	t.Run("records every hub", func(t *testing.T) {
		db := storage.NewMemory()
		addHub(t, db, "1", 5)
		addHub(t, db, "2", 5)
		addHub(t, db, "3", 5)
		s := newScheduler(db, fixedInput(types.TickInput{ConsumptionKWH: 1, SolarKWH: 0.5, GridAvailableKWH: 5}))

		summary, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		assert.Equal(t, TickSummary{Hubs: 3, Recorded: 3}, summary)

		for _, n := range []string{"1", "2", "3"} {
			rec, err := db.GetAllocation(ctx, "hub"+n, tickAt)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.InDelta(t, 1.0, rec.HouseFromSolarKWH+rec.HouseFromBatteryKWH+rec.HouseFromGridKWH, 1e-9)
		}
	})

	t.Run("repeating a tick applies it once", func(t *testing.T) {
		db := storage.NewMemory()
		addHub(t, db, "1", 5)
		s := newScheduler(db, fixedInput(types.TickInput{ConsumptionKWH: 2, GridAvailableKWH: 5}))

		_, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		b1, err := db.GetBattery(ctx, "bat1")
		require.NoError(t, err)

		summary, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Recorded)
		b2, err := db.GetBattery(ctx, "bat1")
		require.NoError(t, err)
		assert.Equal(t, b1.ChargeKWH, b2.ChargeKWH)

		history, err := db.GetAllocationHistory(ctx, "hub1", tickAt, tickAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("breaker trip generates suggestions", func(t *testing.T) {
		db := storage.NewMemory()
		addHub(t, db, "1", 0)
		addHub(t, db, "2", 5)
		require.NoError(t, db.UpsertForecast(ctx, types.Forecast{
			BatteryID:        "bat1",
			ForecastDate:     tickAt,
			ExpectedKWH:      1,
			WeatherCondition: "rain",
		}))
		s := newScheduler(db, sourceFunc(func(_ context.Context, hub types.Hub, _ time.Time, _ time.Duration) (types.TickInput, error) {
			if hub.ID == "hub1" {
				return types.TickInput{ConsumptionKWH: 5}, nil
			}
			return types.TickInput{ConsumptionKWH: 1, GridAvailableKWH: 5}, nil
		}))

		summary, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		assert.Equal(t, TickSummary{Hubs: 2, Recorded: 1, Tripped: 1}, summary)

		rec, err := db.GetAllocation(ctx, "hub1", tickAt)
		require.NoError(t, err)
		assert.Nil(t, rec)
		b, err := db.GetBattery(ctx, "bat1")
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.ChargeKWH)

		sugs, err := db.ListSuggestions(ctx, "bat1")
		require.NoError(t, err)
		var typs []types.SuggestionType
		for _, s := range sugs {
			typs = append(typs, s.Type)
		}
		assert.ElementsMatch(t, []types.SuggestionType{
			types.SuggestionChargeAtNight,
			types.SuggestionEnableEmergencyMode,
			types.SuggestionRaiseBatteryThreshold,
		}, typs)

		sugs, err = db.ListSuggestions(ctx, "bat2")
		require.NoError(t, err)
		assert.Empty(t, sugs)
	})

	t.Run("failures are counted and other hubs continue", func(t *testing.T) {
		db := storage.NewMemory()
		addHub(t, db, "1", 5)
		addHub(t, db, "2", 5)
		require.NoError(t, db.UpsertHub(ctx, types.Hub{ID: "hub3", BatteryID: "missing"}))
		s := newScheduler(db, sourceFunc(func(_ context.Context, hub types.Hub, _ time.Time, _ time.Duration) (types.TickInput, error) {
			if hub.ID == "hub2" {
				return types.TickInput{}, errors.New("meter offline")
			}
			return types.TickInput{ConsumptionKWH: 1, GridAvailableKWH: 5}, nil
		}))

		summary, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		assert.Equal(t, TickSummary{Hubs: 3, Recorded: 1, Failed: 2}, summary)
	})

	t.Run("tick interval is passed to the source", func(t *testing.T) {
		db := storage.NewMemory()
		addHub(t, db, "1", 5)
		var (
			mu   sync.Mutex
			seen []time.Duration
		)
		s := newScheduler(db, sourceFunc(func(_ context.Context, _ types.Hub, _ time.Time, interval time.Duration) (types.TickInput, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, interval)
			return types.TickInput{}, nil
		}))
		_, err := s.TickAll(ctx, tickAt)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Minute}, seen)
	})
}

func TestGenerateAll(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	addHub(t, db, "1", 9)
	addHub(t, db, "2", 5)
	require.NoError(t, db.UpsertForecast(ctx, types.Forecast{BatteryID: "bat1", ForecastDate: tickAt, ExpectedKWH: 4}))

	sug := &mockSuggester{}
	sug.On("Generate", mock.Anything, "bat1").Return([]types.Suggestion{{ID: "a"}, {ID: "b"}}, nil).Once()
	sug.On("Generate", mock.Anything, "bat2").Return(nil, types.ErrStorage).Once()
	s := New(db, fixedInput(types.TickInput{}), nil, sug, Config{})

	n, err := s.GenerateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sug.AssertExpectations(t)
}

func TestCleanOnRollover(t *testing.T) {
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	sug := &mockSuggester{}
	s := New(storage.NewMemory(), fixedInput(types.TickInput{}), nil, sug, Config{Location: ny})
	now := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sug.On("CleanOldSuggestions", mock.Anything).Return(3, nil).Once()
	require.NoError(t, s.CleanOnRollover(ctx))
	require.NoError(t, s.CleanOnRollover(ctx))

	// still June 1st in New York
	now = time.Date(2026, 6, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, s.CleanOnRollover(ctx))
	sug.AssertNumberOfCalls(t, "CleanOldSuggestions", 1)

	// a failed clean is retried on the next call
	now = time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)
	sug.On("CleanOldSuggestions", mock.Anything).Return(0, types.ErrStorage).Once()
	assert.ErrorIs(t, s.CleanOnRollover(ctx), types.ErrStorage)
	sug.On("CleanOldSuggestions", mock.Anything).Return(0, nil).Once()
	require.NoError(t, s.CleanOnRollover(ctx))
	require.NoError(t, s.CleanOnRollover(ctx))
	sug.AssertNumberOfCalls(t, "CleanOldSuggestions", 3)
}

func TestRun(t *testing.T) {
	db := storage.NewMemory()
	addHub(t, db, "1", 5)

	sug := &mockSuggester{}
	sug.On("CleanOldSuggestions", mock.Anything).Return(0, nil)
	sug.On("Generate", mock.Anything, "bat1").Return(nil, nil)

	locks := locker.New()
	s := New(db, fixedInput(types.TickInput{ConsumptionKWH: 1, GridAvailableKWH: 5}), recorder.New(db, locks, nil), sug, Config{
		TickInterval:       time.Hour,
		SuggestionInterval: time.Hour,
	})
	s.now = func() time.Time { return tickAt }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		rec, err := db.GetAllocation(context.Background(), "hub1", tickAt)
		return err == nil && rec != nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
