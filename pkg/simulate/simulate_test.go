package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolarKW(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.0, SolarKW(8, day.Add(3*time.Hour)))
	assert.Equal(t, 0.0, SolarKW(8, day.Add(20*time.Hour)))
	assert.Equal(t, 8.0, SolarKW(8, day.Add(13*time.Hour)))
	assert.Greater(t, SolarKW(8, day.Add(13*time.Hour)), SolarKW(8, day.Add(10*time.Hour)))
	assert.InDelta(t, SolarKW(8, day.Add(10*time.Hour)), SolarKW(8, day.Add(16*time.Hour)), 1e-9)
}

func TestHomeKW(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	evening := HomeKW(1.5, day.Add(19*time.Hour))
	night := HomeKW(1.5, day.Add(2*time.Hour))
	assert.Greater(t, evening, night)
	for h := 0; h < 24; h++ {
		assert.Greater(t, HomeKW(1.5, day.Add(time.Duration(h)*time.Hour)), 0.0)
	}
}

func TestNext(t *testing.T) {
	ctx := context.Background()
	hub := types.Hub{ID: "hub1", BatteryID: "bat1"}
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("same seed same sequence", func(t *testing.T) {
		a, b := NewSeeded(7), NewSeeded(7)
		for i := 0; i < 50; i++ {
			ia, err := a.Next(ctx, hub, at.Add(time.Duration(i)*time.Minute), time.Minute)
			require.NoError(t, err)
			ib, err := b.Next(ctx, hub, at.Add(time.Duration(i)*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, ia, ib)
		}
	})

	t.Run("inputs are valid and scale with the interval", func(t *testing.T) {
		s := NewSeeded(1)
		s.OutageRate = 0
		for i := 0; i < 200; i++ {
			in, err := s.Next(ctx, hub, at.Add(time.Duration(i)*7*time.Minute), 15*time.Minute)
			require.NoError(t, err)
			require.NoError(t, in.Validate())
			assert.InDelta(t, 2.5, in.GridAvailableKWH, 1e-9)
		}
	})

	t.Run("outages zero the grid", func(t *testing.T) {
		s := NewSeeded(1)
		s.OutageRate = 1
		in, err := s.Next(ctx, hub, at, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0.0, in.GridAvailableKWH)
	})

	t.Run("no solar at night", func(t *testing.T) {
		s := NewSeeded(1)
		in, err := s.Next(ctx, hub, time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0.0, in.SolarKWH)
		assert.Greater(t, in.ConsumptionKWH, 0.0)
	})
}

func TestForecast(t *testing.T) {
	s := NewSeeded(3)
	day := time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		fc := s.Forecast("bat1", day)
		assert.Equal(t, "bat1", fc.BatteryID)
		assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), fc.ForecastDate)
		assert.GreaterOrEqual(t, fc.ExpectedKWH, 0.0)
		assert.NotEmpty(t, fc.WeatherCondition)
	}
}

func TestScale(t *testing.T) {
	assert.Equal(t, scale("hub1"), scale("hub1"))
	for _, id := range []string{"a", "hub1", "hub-2", "something longer"} {
		k := scale(id)
		assert.GreaterOrEqual(t, k, 0.75)
		assert.Less(t, k, 1.25)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	hubs, err := NewSeeded(11).Seed(ctx, db, 3, day)
	require.NoError(t, err)
	require.Len(t, hubs, 3)

	listed, err := db.ListHubs(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	for _, hub := range hubs {
		b, err := db.GetBattery(ctx, hub.BatteryID)
		require.NoError(t, err)
		require.NoError(t, b.Validate())
		assert.Equal(t, hub.ID, b.HubID)

		fc, err := db.GetLatestForecast(ctx, hub.BatteryID)
		require.NoError(t, err)
		require.NotNil(t, fc)
		assert.Equal(t, day, fc.ForecastDate)
	}

	// seeding again overwrites the same hubs
	_, err = NewSeeded(12).Seed(ctx, db, 3, day)
	require.NoError(t, err)
	listed, err = db.ListHubs(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}
