package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SuggestionType identifies a suggestion rule and its effect.
type SuggestionType string

const (
	SuggestionChargeAtNight         SuggestionType = "chargeAtNight"
	SuggestionEnableEmergencyMode   SuggestionType = "enableEmergencyMode"
	SuggestionLowerBatteryThreshold SuggestionType = "lowerBatteryThreshold"
	SuggestionRaiseBatteryThreshold SuggestionType = "raiseBatteryThreshold"
)

// SuggestionStatus is Pending until the user applies or ignores it.
type SuggestionStatus string

const (
	SuggestionStatusPending SuggestionStatus = "pending"
	SuggestionStatusApplied SuggestionStatus = "applied"
	SuggestionStatusIgnored SuggestionStatus = "ignored"
)

// UnmarshalJSON rejects unknown statuses.
func (s *SuggestionStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch SuggestionStatus(str) {
	case SuggestionStatusPending, SuggestionStatusApplied, SuggestionStatusIgnored:
		*s = SuggestionStatus(str)
		return nil
	}
	return fmt.Errorf("%w: unknown suggestion status %q", ErrValidation, str)
}

// Suggestion is a recommendation for a battery generated from its forecast.
type Suggestion struct {
	ID          string           `json:"id"`
	BatteryID   string           `json:"batteryID"`
	Type        SuggestionType   `json:"type"`
	Status      SuggestionStatus `json:"status"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	TimeSent    time.Time        `json:"timeSent"`
	// Day is the local calendar day (YYYY-MM-DD) the suggestion belongs to.
	Day string `json:"day"`
}

// DedupKey identifies the one suggestion of a type allowed per battery per
// day.
func (s Suggestion) DedupKey() string {
	return SuggestionDedupKey(s.BatteryID, s.Type, s.Day)
}

// SuggestionDedupKey builds the dedup key for a battery, type and day.
func SuggestionDedupKey(batteryID string, typ SuggestionType, day string) string {
	return batteryID + "_" + string(typ) + "_" + day
}

// DayString formats t's calendar day in loc.
func DayString(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// TruncateDay returns midnight of t's day in t's location.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
