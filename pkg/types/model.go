package types

import (
	"fmt"
	"math"
	"time"
)

// Hub represents a household energy hub with one battery.
type Hub struct {
	ID        string `json:"id"`
	UserID    string `json:"userID"`
	BatteryID string `json:"batteryID"`
	Name      string `json:"name"`
}

// TickInput is one sampling interval's demand and supply.
type TickInput struct {
	ConsumptionKWH   float64 `json:"consumptionKWH"`
	SolarKWH         float64 `json:"solarKWH"`
	GridAvailableKWH float64 `json:"gridAvailableKWH"`
	// ForceCharge charges the battery from the grid regardless of mode, as
	// long as the charge source permits it.
	ForceCharge bool `json:"forceCharge,omitempty"`
}

// Validate rejects negative or non-finite quantities.
func (in TickInput) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"consumption", in.ConsumptionKWH},
		{"solarGenerated", in.SolarKWH},
		{"gridAvailable", in.GridAvailableKWH},
	}
	for _, f := range fields {
		if !finite(f.v) || f.v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrValidation, f.name, f.v)
		}
	}
	return nil
}

// AllocationRecord is the routing of energy for one tick of one hub.
type AllocationRecord struct {
	HubID     string    `json:"hubID"`
	BatteryID string    `json:"batteryID"`
	Timestamp time.Time `json:"timestamp"`

	ConsumptionKWH float64 `json:"consumptionKWH"`
	SolarKWH       float64 `json:"solarKWH"`

	HouseFromGridKWH    float64 `json:"houseFromGridKWH"`
	HouseFromSolarKWH   float64 `json:"houseFromSolarKWH"`
	HouseFromBatteryKWH float64 `json:"houseFromBatteryKWH"`
	BatteryFromSolarKWH float64 `json:"batteryFromSolarKWH"`
	BatteryFromGridKWH  float64 `json:"batteryFromGridKWH"`
	GridExportKWH       float64 `json:"gridExportKWH"`

	// BatteryChargeKWH is the battery charge after this tick was applied.
	BatteryChargeKWH float64 `json:"batteryChargeKWH"`
}

// BatteryDeltaKWH is the signed change in battery charge, positive when
// charging.
func (r AllocationRecord) BatteryDeltaKWH() float64 {
	return r.BatteryFromSolarKWH + r.BatteryFromGridKWH - r.HouseFromBatteryKWH
}

// NetGridKWH is positive for import and negative for export.
func (r AllocationRecord) NetGridKWH() float64 {
	return r.HouseFromGridKWH + r.BatteryFromGridKWH - r.GridExportKWH
}

// Rounded returns a copy rounded to two decimals for reporting. Stored
// records keep full precision.
func (r AllocationRecord) Rounded() AllocationRecord {
	r.ConsumptionKWH = round2(r.ConsumptionKWH)
	r.SolarKWH = round2(r.SolarKWH)
	r.HouseFromGridKWH = round2(r.HouseFromGridKWH)
	r.HouseFromSolarKWH = round2(r.HouseFromSolarKWH)
	r.HouseFromBatteryKWH = round2(r.HouseFromBatteryKWH)
	r.BatteryFromSolarKWH = round2(r.BatteryFromSolarKWH)
	r.BatteryFromGridKWH = round2(r.BatteryFromGridKWH)
	r.GridExportKWH = round2(r.GridExportKWH)
	r.BatteryChargeKWH = round2(r.BatteryChargeKWH)
	return r
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Forecast is the solar outlook for a battery's site on a given day.
type Forecast struct {
	BatteryID          string    `json:"batteryID"`
	ForecastDate       time.Time `json:"forecastDate"`
	ExpectedKWH        float64   `json:"expectedKWH"`
	SolarHoursExpected float64   `json:"solarHoursExpected"`
	WeatherCondition   string    `json:"weatherCondition"`
}
