// Package simulate produces synthetic tick inputs and forecasts for demo
// hubs. All randomness comes from an injected source so runs can be
// reproduced.
package simulate

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Source generates household consumption, solar generation and grid
// availability for a hub at a point in time.
type Source struct {
	// SolarPeakKW is the output of an average array at 13:00 on a clear day.
	SolarPeakKW float64
	// HomeAvgKW is the baseline household load.
	HomeAvgKW float64
	// GridLimitKW is the breaker limit of the grid connection.
	GridLimitKW float64
	// OutageRate is the chance that the grid is unavailable for a tick.
	OutageRate float64
	// ForceChargeRate is the chance that the hub owner forces a grid charge.
	ForceChargeRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Source drawing from rng.
func New(rng *rand.Rand) *Source {
	return &Source{
		SolarPeakKW:     6.0,
		HomeAvgKW:       1.5,
		GridLimitKW:     10.0,
		OutageRate:      0.02,
		ForceChargeRate: 0.01,
		rng:             rng,
	}
}

// NewSeeded creates a Source from a fixed seed.
func NewSeeded(seed int64) *Source {
	return New(rand.New(rand.NewSource(seed)))
}

func (s *Source) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// scale gives each hub a stable size factor in [0.75, 1.25) so demo hubs
// differ from each other.
func scale(hubID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(hubID))
	return 0.75 + float64(h.Sum32()%1000)/2000.0
}

// SolarKW is the clear-sky output of an array peaking at peakKW: a bell
// curve centered on 13:00 with nothing before 06:00 or after 19:00.
func SolarKW(peakKW float64, at time.Time) float64 {
	hour := float64(at.Hour()) + float64(at.Minute())/60.0
	if hour <= 6 || hour >= 19 {
		return 0
	}
	dist := hour - 13.0
	return peakKW * math.Exp(-(dist*dist)/12.0)
}

// HomeKW is the household load without jitter: a baseline with a breakfast
// bump and a larger evening bump.
func HomeKW(avgKW float64, at time.Time) float64 {
	hour := at.Hour()
	kw := avgKW + 0.5*math.Sin(float64(hour)*math.Pi/12.0)
	switch {
	case hour >= 7 && hour < 9:
		kw += 1.0
	case hour >= 18 && hour < 22:
		kw += 2.0
	}
	return math.Max(0.2, kw)
}

// Next returns the tick input for hub at at, covering interval.
func (s *Source) Next(_ context.Context, hub types.Hub, at time.Time, interval time.Duration) (types.TickInput, error) {
	hours := interval.Hours()
	k := scale(hub.ID)

	// cloud cover knocks out up to 40% of the clear-sky output
	solar := SolarKW(s.SolarPeakKW*k, at) * (1 - 0.4*s.float64())
	home := HomeKW(s.HomeAvgKW*k, at) + s.float64()*0.5

	grid := s.GridLimitKW
	if s.float64() < s.OutageRate {
		grid = 0
	}

	return types.TickInput{
		ConsumptionKWH:   home * hours,
		SolarKWH:         solar * hours,
		GridAvailableKWH: grid * hours,
		ForceCharge:      s.float64() < s.ForceChargeRate,
	}, nil
}

var weatherConditions = []struct {
	condition string
	factor    float64
}{
	{"sunny", 1.0},
	{"partly cloudy", 0.7},
	{"cloudy", 0.4},
	{"overcast", 0.2},
	{"rain", 0.1},
}

// Forecast returns a synthetic solar forecast for the battery on day.
func (s *Source) Forecast(batteryID string, day time.Time) types.Forecast {
	w := weatherConditions[int(s.float64()*float64(len(weatherConditions)))%len(weatherConditions)]
	k := scale(batteryID)

	// integrate the clear-sky curve over the day in 15 minute steps
	var clearKWH float64
	start := types.TruncateDay(day)
	for t := start; t.Before(start.AddDate(0, 0, 1)); t = t.Add(15 * time.Minute) {
		clearKWH += SolarKW(s.SolarPeakKW*k, t) * 0.25
	}

	return types.Forecast{
		BatteryID:          batteryID,
		ForecastDate:       start,
		ExpectedKWH:        math.Round(clearKWH*w.factor*100) / 100,
		SolarHoursExpected: math.Round(12*w.factor*10) / 10,
		WeatherCondition:   w.condition,
	}
}
