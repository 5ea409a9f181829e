package suggestion

import (
	"fmt"

	"github.com/raterudder/energyhub/pkg/types"
)

const (
	lowSolarKWH          = 5.0
	veryLowSolarKWH      = 2.0
	highChargePercent    = 80.0
	lowChargePercent     = 20.0
	lowerThresholdAbove  = 30
	raiseThresholdBelow  = 70
	thresholdStep        = 10
	thresholdMinFloor    = 10
	thresholdMaxCeiling  = 100
	nightWindowStartHour = 22
	nightWindowEndHour   = 6
)

type candidate struct {
	typ         types.SuggestionType
	title       string
	description string
}

// evaluate returns the suggestions whose rule fires, in a fixed order.
func evaluate(b types.BatteryState, f types.Forecast) []candidate {
	var out []candidate
	if f.ExpectedKWH < lowSolarKWH {
		out = append(out, candidate{
			typ:   types.SuggestionChargeAtNight,
			title: "Charge your battery overnight",
			description: fmt.Sprintf(
				"Only %.1f kWh of solar is expected (%s). Charging from the grid between %02d:00 and %02d:00 keeps the battery ready.",
				f.ExpectedKWH, f.WeatherCondition, nightWindowStartHour, nightWindowEndHour,
			),
		})
	}
	if f.ExpectedKWH < veryLowSolarKWH && b.ChargeMode != types.ChargeModeEmergency {
		out = append(out, candidate{
			typ:   types.SuggestionEnableEmergencyMode,
			title: "Enable emergency mode",
			description: fmt.Sprintf(
				"Solar is expected to produce just %.1f kWh over %.1f hours. Emergency mode charges the battery whenever the grid is available.",
				f.ExpectedKWH, f.SolarHoursExpected,
			),
		})
	}
	level := b.ChargeLevelPercent()
	if level > highChargePercent && b.ThresholdMin > lowerThresholdAbove {
		out = append(out, candidate{
			typ:   types.SuggestionLowerBatteryThreshold,
			title: "Lower your minimum battery threshold",
			description: fmt.Sprintf(
				"The battery is %.0f%% charged but keeps %d%% in reserve. Lowering the reserve makes more stored energy usable.",
				level, b.ThresholdMin,
			),
		})
	}
	if level < lowChargePercent && b.ThresholdMax > raiseThresholdBelow {
		out = append(out, candidate{
			typ:   types.SuggestionRaiseBatteryThreshold,
			title: "Raise your maximum battery threshold",
			description: fmt.Sprintf(
				"The battery is only %.0f%% charged. Raising the charge limit above %d%% stores more energy when it is available.",
				level, b.ThresholdMax,
			),
		})
	}
	return out
}

// applyEffect mutates b according to the suggestion type.
func applyEffect(b *types.BatteryState, typ types.SuggestionType) error {
	switch typ {
	case types.SuggestionChargeAtNight:
		b.ChargeMode = types.ChargeModePersonalized
		b.ChargeWindow = &types.ChargeWindow{StartHour: nightWindowStartHour, EndHour: nightWindowEndHour}
		// the night window is useless if the battery may only charge from solar
		if b.ChargeSource == types.ChargeSourceSolar {
			b.ChargeSource = types.ChargeSourceAll
		}
	case types.SuggestionEnableEmergencyMode:
		b.ChargeMode = types.ChargeModeEmergency
	case types.SuggestionLowerBatteryThreshold:
		lowered := b.ThresholdMin - thresholdStep
		if lowered < thresholdMinFloor {
			lowered = min(thresholdMinFloor, b.ThresholdMin)
		}
		b.ThresholdMin = lowered
	case types.SuggestionRaiseBatteryThreshold:
		b.ThresholdMax = min(b.ThresholdMax+thresholdStep, thresholdMaxCeiling)
	default:
		return fmt.Errorf("%w: unknown suggestion type %q", types.ErrValidation, typ)
	}
	return nil
}
