package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every missing-entity error.
	ErrNotFound           = errors.New("not found")
	ErrHubNotFound        = fmt.Errorf("hub %w", ErrNotFound)
	ErrBatteryNotFound    = fmt.Errorf("battery %w", ErrNotFound)
	ErrSuggestionNotFound = fmt.Errorf("suggestion %w", ErrNotFound)

	// ErrInsufficientSupply is matched by *InsufficientSupplyError.
	ErrInsufficientSupply = errors.New("insufficient supply")

	// ErrInvalidState is returned when a suggestion was already resolved.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation is returned for malformed batteries or ticks. Nothing is
	// mutated when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrStorage wraps transient storage failures. Callers may retry; ticks
	// are idempotent on (hubID, timestamp).
	ErrStorage = errors.New("storage failure")

	// ErrTickAlreadyRecorded is returned by storage when an allocation for
	// the same hub and timestamp was committed first.
	ErrTickAlreadyRecorded = errors.New("tick already recorded")

	// ErrDuplicateSuggestion is returned by storage when a suggestion with
	// the same battery, type and day already exists.
	ErrDuplicateSuggestion = errors.New("duplicate suggestion")
)

// InsufficientSupplyError is returned when solar, the battery and the grid
// together cannot cover consumption for a tick (the breaker trips).
type InsufficientSupplyError struct {
	HubID       string
	ResidualKWH float64
}

func (e *InsufficientSupplyError) Error() string {
	if e.HubID != "" {
		return fmt.Sprintf("insufficient supply for hub %s: %.3f kWh unmet", e.HubID, e.ResidualKWH)
	}
	return fmt.Sprintf("insufficient supply: %.3f kWh unmet", e.ResidualKWH)
}

// Is lets errors.Is match ErrInsufficientSupply.
func (e *InsufficientSupplyError) Is(target error) bool {
	return target == ErrInsufficientSupply
}
