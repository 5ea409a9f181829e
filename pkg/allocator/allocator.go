// Package allocator routes one tick of energy between the house, solar, the
// battery and the grid.
package allocator

import (
	"math"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// pool is a running amount of energy that can still be drawn from a source
// or pushed into a sink.
type pool float64

// draw moves min(want, p) out of the pool and returns the amount moved.
func (p *pool) draw(want float64) float64 {
	used := math.Min(want, float64(*p))
	if used <= 0 {
		return 0
	}
	*p -= pool(used)
	return used
}

// Allocate computes how a tick's consumption and solar generation are routed
// given the battery's current charge and quotas. It does not mutate battery;
// the returned record's BatteryChargeKWH is the charge after applying the
// delta.
//
// Consumption is met from solar, then battery discharge, then the grid. If
// that is not enough, an *types.InsufficientSupplyError carrying the unmet
// residual is returned. Remaining solar then charges the battery, followed by
// the grid when the battery's mode (or input.ForceCharge) asks for it.
// Whatever solar is left is exported.
func Allocate(input types.TickInput, battery types.BatteryState, at time.Time) (types.AllocationRecord, error) {
	if err := input.Validate(); err != nil {
		return types.AllocationRecord{}, err
	}
	if err := battery.Validate(); err != nil {
		return types.AllocationRecord{}, err
	}

	rec := types.AllocationRecord{
		HubID:          battery.HubID,
		BatteryID:      battery.ID,
		Timestamp:      at,
		ConsumptionKWH: input.ConsumptionKWH,
		SolarKWH:       input.SolarKWH,
	}

	solar := pool(input.SolarKWH)
	grid := pool(input.GridAvailableKWH)
	discharge := pool(battery.QuotaDischargeKWH())
	charge := pool(battery.QuotaChargeKWH())

	demand := pool(input.ConsumptionKWH)
	rec.HouseFromSolarKWH = demand.draw(solar.draw(float64(demand)))
	rec.HouseFromBatteryKWH = demand.draw(discharge.draw(float64(demand)))
	rec.HouseFromGridKWH = demand.draw(grid.draw(float64(demand)))
	if demand > 0 {
		return types.AllocationRecord{}, &types.InsufficientSupplyError{
			HubID:       battery.HubID,
			ResidualKWH: float64(demand),
		}
	}

	if battery.ChargeSource.AllowsSolar() {
		rec.BatteryFromSolarKWH = charge.draw(solar.draw(float64(charge)))
	}
	if battery.ChargeSource.AllowsGrid() && (input.ForceCharge || battery.WantsGridCharge(at)) {
		rec.BatteryFromGridKWH = charge.draw(grid.draw(float64(charge)))
	}

	rec.GridExportKWH = float64(solar)

	// quotas already keep this in range, the clamp only absorbs float noise
	rec.BatteryChargeKWH = clamp(battery.ChargeKWH+rec.BatteryDeltaKWH(), 0, battery.CapacityMaxKWH)
	return rec, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
