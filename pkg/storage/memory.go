package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

type allocationKey struct {
	hubID string
	ts    int64
}

// MemoryProvider implements the Database interface in process memory. It is
// used for demos and tests; every method runs under one lock, which makes
// CommitTick and UpdateSuggestion atomic.
type MemoryProvider struct {
	mu          sync.RWMutex
	hubs        map[string]types.Hub
	batteries   map[string]types.BatteryState
	allocations map[allocationKey]types.AllocationRecord
	forecasts   map[string][]types.Forecast
	suggestions map[string]types.Suggestion
	dedup       map[string]string
}

// NewMemory creates an empty MemoryProvider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		hubs:        make(map[string]types.Hub),
		batteries:   make(map[string]types.BatteryState),
		allocations: make(map[allocationKey]types.AllocationRecord),
		forecasts:   make(map[string][]types.Forecast),
		suggestions: make(map[string]types.Suggestion),
		dedup:       make(map[string]string),
	}
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}

func cloneBattery(b types.BatteryState) types.BatteryState {
	if b.ChargeWindow != nil {
		w := *b.ChargeWindow
		b.ChargeWindow = &w
	}
	return b
}

func newAllocationKey(hubID string, ts time.Time) allocationKey {
	return allocationKey{hubID: hubID, ts: ts.UnixNano()}
}

func (m *MemoryProvider) GetHub(_ context.Context, hubID string) (types.Hub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hub, ok := m.hubs[hubID]
	if !ok {
		return types.Hub{}, fmt.Errorf("%w: %s", types.ErrHubNotFound, hubID)
	}
	return hub, nil
}

func (m *MemoryProvider) ListHubs(_ context.Context) ([]types.Hub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hubs := make([]types.Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	sort.Slice(hubs, func(i, j int) bool { return hubs[i].ID < hubs[j].ID })
	return hubs, nil
}

func (m *MemoryProvider) UpsertHub(_ context.Context, hub types.Hub) error {
	if hub.ID == "" {
		return fmt.Errorf("%w: hub id cannot be empty", types.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hubs[hub.ID] = hub
	return nil
}

func (m *MemoryProvider) GetBattery(_ context.Context, batteryID string) (types.BatteryState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batteries[batteryID]
	if !ok {
		return types.BatteryState{}, fmt.Errorf("%w: %s", types.ErrBatteryNotFound, batteryID)
	}
	return cloneBattery(b), nil
}

func (m *MemoryProvider) UpsertBattery(_ context.Context, battery types.BatteryState) error {
	if battery.ID == "" {
		return fmt.Errorf("%w: battery id cannot be empty", types.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batteries[battery.ID] = cloneBattery(battery)
	return nil
}

func (m *MemoryProvider) GetAllocation(_ context.Context, hubID string, ts time.Time) (*types.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.allocations[newAllocationKey(hubID, ts)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryProvider) CommitTick(ctx context.Context, battery types.BatteryState, record types.AllocationRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStorage, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := newAllocationKey(record.HubID, record.Timestamp)
	if _, ok := m.allocations[key]; ok {
		return types.ErrTickAlreadyRecorded
	}
	m.allocations[key] = record
	m.batteries[battery.ID] = cloneBattery(battery)
	return nil
}

func (m *MemoryProvider) GetAllocationHistory(_ context.Context, hubID string, start, end time.Time) ([]types.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AllocationRecord
	for k, rec := range m.allocations {
		if k.hubID != hubID || rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryProvider) GetLatestForecast(_ context.Context, batteryID string) (*types.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fcs := m.forecasts[batteryID]
	if len(fcs) == 0 {
		return nil, nil
	}
	latest := fcs[0]
	for _, fc := range fcs[1:] {
		if fc.ForecastDate.After(latest.ForecastDate) {
			latest = fc
		}
	}
	return &latest, nil
}

func (m *MemoryProvider) UpsertForecast(_ context.Context, forecast types.Forecast) error {
	if forecast.BatteryID == "" {
		return fmt.Errorf("%w: forecast battery id cannot be empty", types.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	day := forecast.ForecastDate.Format(time.DateOnly)
	fcs := m.forecasts[forecast.BatteryID]
	for i, fc := range fcs {
		if fc.ForecastDate.Format(time.DateOnly) == day {
			fcs[i] = forecast
			return nil
		}
	}
	m.forecasts[forecast.BatteryID] = append(fcs, forecast)
	return nil
}

func (m *MemoryProvider) SuggestionExists(_ context.Context, batteryID string, typ types.SuggestionType, day string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dedup[types.SuggestionDedupKey(batteryID, typ, day)]
	return ok, nil
}

func (m *MemoryProvider) InsertSuggestion(_ context.Context, s types.Suggestion) error {
	if s.ID == "" {
		return fmt.Errorf("%w: suggestion id cannot be empty", types.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dedup[s.DedupKey()]; ok {
		return types.ErrDuplicateSuggestion
	}
	if _, ok := m.suggestions[s.ID]; ok {
		return types.ErrDuplicateSuggestion
	}
	m.dedup[s.DedupKey()] = s.ID
	m.suggestions[s.ID] = s
	return nil
}

func (m *MemoryProvider) GetSuggestion(_ context.Context, id string) (types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suggestions[id]
	if !ok {
		return types.Suggestion{}, fmt.Errorf("%w: %s", types.ErrSuggestionNotFound, id)
	}
	return s, nil
}

func (m *MemoryProvider) UpdateSuggestion(ctx context.Context, s types.Suggestion, battery *types.BatteryState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStorage, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suggestions[s.ID]; !ok {
		return fmt.Errorf("%w: %s", types.ErrSuggestionNotFound, s.ID)
	}
	m.suggestions[s.ID] = s
	if battery != nil {
		m.batteries[battery.ID] = cloneBattery(*battery)
	}
	return nil
}

func (m *MemoryProvider) ListSuggestions(_ context.Context, batteryID string) ([]types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Suggestion
	for _, s := range m.suggestions {
		if s.BatteryID == batteryID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeSent.Equal(out[j].TimeSent) {
			return out[i].ID < out[j].ID
		}
		return out[i].TimeSent.Before(out[j].TimeSent)
	})
	return out, nil
}

func (m *MemoryProvider) DeleteSuggestionsBefore(_ context.Context, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int
	for id, s := range m.suggestions {
		if s.TimeSent.Before(t) {
			delete(m.suggestions, id)
			delete(m.dedup, s.DedupKey())
			deleted++
		}
	}
	return deleted, nil
}
