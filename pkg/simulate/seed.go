package simulate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Store is the part of storage the demo seeding writes to.
type Store interface {
	UpsertHub(ctx context.Context, hub types.Hub) error
	UpsertBattery(ctx context.Context, battery types.BatteryState) error
	UpsertForecast(ctx context.Context, forecast types.Forecast) error
}

var batterySizesKWH = []float64{10, 13.5, 16, 27.2}

// Seed writes n demo hubs, each with a battery at a random charge and a
// forecast for day. Hub IDs are demo-1 through demo-n, so seeding again
// resets the same hubs.
func (s *Source) Seed(ctx context.Context, db Store, n int, day time.Time) ([]types.Hub, error) {
	hubs := make([]types.Hub, 0, n)
	for i := 1; i <= n; i++ {
		hub := types.Hub{
			ID:        fmt.Sprintf("demo-%d", i),
			UserID:    fmt.Sprintf("demo-user-%d", i),
			BatteryID: fmt.Sprintf("demo-battery-%d", i),
			Name:      fmt.Sprintf("Demo Home %d", i),
		}
		capacity := batterySizesKWH[int(s.float64()*float64(len(batterySizesKWH)))%len(batterySizesKWH)]
		battery := types.BatteryState{
			ID:               hub.BatteryID,
			HubID:            hub.ID,
			ChargeKWH:        math.Round(capacity*(0.1+0.8*s.float64())*10) / 10,
			CapacityMaxKWH:   capacity,
			ChargeRateKWH:    capacity / 4,
			DischargeRateKWH: capacity / 4,
			ThresholdMin:     20 + 5*int(s.float64()*5),
			ThresholdMax:     75 + 5*int(s.float64()*6),
			ChargeMode:       types.ChargeModeNormal,
			ChargeSource:     types.ChargeSourceAll,
		}
		if err := db.UpsertHub(ctx, hub); err != nil {
			return nil, fmt.Errorf("failed to seed hub %s: %w", hub.ID, err)
		}
		if err := db.UpsertBattery(ctx, battery); err != nil {
			return nil, fmt.Errorf("failed to seed battery %s: %w", battery.ID, err)
		}
		if err := db.UpsertForecast(ctx, s.Forecast(battery.ID, day)); err != nil {
			return nil, fmt.Errorf("failed to seed forecast for %s: %w", battery.ID, err)
		}
		hubs = append(hubs, hub)
	}
	return hubs, nil
}
