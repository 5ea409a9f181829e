package storage

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Database defines the interface for persisting hubs, batteries, allocation
// history, forecasts and suggestions.
//
// Missing entities are reported with the types.Err*NotFound errors and
// transient failures are wrapped with types.ErrStorage.
type Database interface {
	// Hubs
	GetHub(ctx context.Context, hubID string) (types.Hub, error)
	ListHubs(ctx context.Context) ([]types.Hub, error)
	UpsertHub(ctx context.Context, hub types.Hub) error

	// Batteries
	GetBattery(ctx context.Context, batteryID string) (types.BatteryState, error)
	UpsertBattery(ctx context.Context, battery types.BatteryState) error

	// Allocations
	// GetAllocation returns nil if no allocation was recorded for the hub at ts.
	GetAllocation(ctx context.Context, hubID string, ts time.Time) (*types.AllocationRecord, error)
	// CommitTick atomically stores the updated battery and the new allocation
	// record. It returns types.ErrTickAlreadyRecorded, without writing
	// anything, if the hub already has a record at record.Timestamp.
	CommitTick(ctx context.Context, battery types.BatteryState, record types.AllocationRecord) error
	GetAllocationHistory(ctx context.Context, hubID string, start, end time.Time) ([]types.AllocationRecord, error)

	// Forecasts
	// GetLatestForecast returns nil if the battery has no forecast.
	GetLatestForecast(ctx context.Context, batteryID string) (*types.Forecast, error)
	UpsertForecast(ctx context.Context, forecast types.Forecast) error

	// Suggestions
	SuggestionExists(ctx context.Context, batteryID string, typ types.SuggestionType, day string) (bool, error)
	// InsertSuggestion returns types.ErrDuplicateSuggestion if a suggestion
	// with the same DedupKey exists.
	InsertSuggestion(ctx context.Context, suggestion types.Suggestion) error
	GetSuggestion(ctx context.Context, id string) (types.Suggestion, error)
	// UpdateSuggestion stores the suggestion and, if battery is not nil, the
	// battery in one transaction.
	UpdateSuggestion(ctx context.Context, suggestion types.Suggestion, battery *types.BatteryState) error
	ListSuggestions(ctx context.Context, batteryID string) ([]types.Suggestion, error)
	// DeleteSuggestionsBefore deletes every suggestion sent before t and
	// returns how many were deleted.
	DeleteSuggestionsBefore(ctx context.Context, t time.Time) (int, error)

	// Lifecycle
	Close() error
}
