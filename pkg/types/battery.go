package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ChargeMode controls when the battery may be charged from the grid.
type ChargeMode int

const (
	// ChargeModeNormal only charges from the grid when explicitly forced.
	ChargeModeNormal ChargeMode = iota
	// ChargeModePersonalized charges from the grid inside the charge window.
	ChargeModePersonalized
	// ChargeModeEmergency always tops the battery up from the grid.
	ChargeModeEmergency
)

var chargeModeNames = map[ChargeMode]string{
	ChargeModeNormal:       "normal",
	ChargeModePersonalized: "personalized",
	ChargeModeEmergency:    "emergency",
}

func (m ChargeMode) String() string {
	if n, ok := chargeModeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("ChargeMode(%d)", int(m))
}

// MarshalJSON encodes the mode as its name.
func (m ChargeMode) MarshalJSON() ([]byte, error) {
	n, ok := chargeModeNames[m]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge mode %d", ErrValidation, int(m))
	}
	return json.Marshal(n)
}

// UnmarshalJSON decodes the mode from its name.
func (m *ChargeMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: charge mode must be a string: %w", ErrValidation, err)
	}
	v, err := ParseChargeMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseChargeMode parses a charge mode name.
func ParseChargeMode(s string) (ChargeMode, error) {
	for m, n := range chargeModeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown charge mode %q", ErrValidation, s)
}

// ChargeSource restricts which sources may charge the battery.
type ChargeSource int

const (
	ChargeSourceAll ChargeSource = iota
	ChargeSourceGrid
	ChargeSourceSolar
)

var chargeSourceNames = map[ChargeSource]string{
	ChargeSourceAll:   "all",
	ChargeSourceGrid:  "grid",
	ChargeSourceSolar: "solar",
}

func (s ChargeSource) String() string {
	if n, ok := chargeSourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ChargeSource(%d)", int(s))
}

// MarshalJSON encodes the source as its name.
func (s ChargeSource) MarshalJSON() ([]byte, error) {
	n, ok := chargeSourceNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge source %d", ErrValidation, int(s))
	}
	return json.Marshal(n)
}

// UnmarshalJSON decodes the source from its name.
func (s *ChargeSource) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("%w: charge source must be a string: %w", ErrValidation, err)
	}
	v, err := ParseChargeSource(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseChargeSource parses a charge source name.
func ParseChargeSource(s string) (ChargeSource, error) {
	for src, n := range chargeSourceNames {
		if n == s {
			return src, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown charge source %q", ErrValidation, s)
}

// AllowsSolar reports whether solar may charge the battery.
func (s ChargeSource) AllowsSolar() bool {
	return s == ChargeSourceAll || s == ChargeSourceSolar
}

// AllowsGrid reports whether the grid may charge the battery.
func (s ChargeSource) AllowsGrid() bool {
	return s == ChargeSourceAll || s == ChargeSourceGrid
}

// ChargeWindow is a range of local hours [StartHour, EndHour) during which
// a personalized battery charges from the grid. It may wrap midnight.
type ChargeWindow struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// Contains reports whether t falls inside the window.
func (w ChargeWindow) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// BatteryState represents one battery attached to one energy hub.
type BatteryState struct {
	ID    string `json:"id"`
	HubID string `json:"hubID"`

	ChargeKWH        float64 `json:"chargeKWH"`
	CapacityMaxKWH   float64 `json:"capacityMaxKWH"`
	ChargeRateKWH    float64 `json:"chargeRateKWH"`    // per tick
	DischargeRateKWH float64 `json:"dischargeRateKWH"` // per tick

	// percent of capacity, 0-100
	ThresholdMin int `json:"thresholdMin"`
	ThresholdMax int `json:"thresholdMax"`

	ChargeMode   ChargeMode    `json:"chargeMode"`
	ChargeSource ChargeSource  `json:"chargeSource"`
	ChargeWindow *ChargeWindow `json:"chargeWindow,omitempty"`
}

// Validate checks the battery invariants.
func (b BatteryState) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: battery id is required", ErrValidation)
	}
	if !finite(b.CapacityMaxKWH) || b.CapacityMaxKWH <= 0 {
		return fmt.Errorf("%w: capacityMax must be positive, got %v", ErrValidation, b.CapacityMaxKWH)
	}
	if !finite(b.ChargeKWH) || b.ChargeKWH < 0 || b.ChargeKWH > b.CapacityMaxKWH {
		return fmt.Errorf("%w: charge %v outside [0, %v]", ErrValidation, b.ChargeKWH, b.CapacityMaxKWH)
	}
	if !finite(b.ChargeRateKWH) || b.ChargeRateKWH < 0 {
		return fmt.Errorf("%w: chargeRate must not be negative, got %v", ErrValidation, b.ChargeRateKWH)
	}
	if !finite(b.DischargeRateKWH) || b.DischargeRateKWH < 0 {
		return fmt.Errorf("%w: dischargeRate must not be negative, got %v", ErrValidation, b.DischargeRateKWH)
	}
	if b.ThresholdMin < 0 || b.ThresholdMax > 100 {
		return fmt.Errorf("%w: thresholds must be within 0-100, got %d-%d", ErrValidation, b.ThresholdMin, b.ThresholdMax)
	}
	if b.ThresholdMax < b.ThresholdMin {
		return fmt.Errorf("%w: thresholdMax %d below thresholdMin %d", ErrValidation, b.ThresholdMax, b.ThresholdMin)
	}
	if _, ok := chargeModeNames[b.ChargeMode]; !ok {
		return fmt.Errorf("%w: unknown charge mode %d", ErrValidation, int(b.ChargeMode))
	}
	if _, ok := chargeSourceNames[b.ChargeSource]; !ok {
		return fmt.Errorf("%w: unknown charge source %d", ErrValidation, int(b.ChargeSource))
	}
	if w := b.ChargeWindow; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("%w: charge window hours must be within 0-23, got %d-%d", ErrValidation, w.StartHour, w.EndHour)
		}
	}
	return nil
}

// QuotaChargeKWH is the most energy the battery can accept this tick.
func (b BatteryState) QuotaChargeKWH() float64 {
	ceiling := float64(b.ThresholdMax) / 100.0 * b.CapacityMaxKWH
	return math.Max(0, math.Min(b.ChargeRateKWH, ceiling-b.ChargeKWH))
}

// QuotaDischargeKWH is the most energy the battery can give up this tick.
func (b BatteryState) QuotaDischargeKWH() float64 {
	floor := float64(b.ThresholdMin) / 100.0 * b.CapacityMaxKWH
	return math.Max(0, math.Min(b.DischargeRateKWH, b.ChargeKWH-floor))
}

// ChargeLevelPercent is the state of charge as a percentage of capacity.
func (b BatteryState) ChargeLevelPercent() float64 {
	if b.CapacityMaxKWH <= 0 {
		return 0
	}
	return b.ChargeKWH / b.CapacityMaxKWH * 100.0
}

// WantsGridCharge reports whether the battery's mode asks for grid charging
// at t. The charge source is checked separately.
func (b BatteryState) WantsGridCharge(t time.Time) bool {
	switch b.ChargeMode {
	case ChargeModeEmergency:
		return true
	case ChargeModePersonalized:
		return b.ChargeWindow != nil && b.ChargeWindow.Contains(t)
	default:
		return false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
