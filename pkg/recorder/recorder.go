// Package recorder applies allocation ticks to batteries and persists the
// resulting records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raterudder/energyhub/pkg/allocator"
	"github.com/raterudder/energyhub/pkg/locker"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
)

// Recorder runs one tick for a hub: it allocates the tick's energy, updates
// the battery charge and stores the allocation record in one commit.
type Recorder struct {
	db    storage.Database
	locks *locker.Locker
	loc   *time.Location
}

// New creates a Recorder. locks must be shared with anything else that
// writes battery state so updates to one battery are serialized. Charge
// windows are evaluated in loc, UTC if nil.
func New(db storage.Database, locks *locker.Locker, loc *time.Location) *Recorder {
	if locks == nil {
		locks = locker.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Recorder{db: db, locks: locks, loc: loc}
}

// TickTime normalizes a tick timestamp to the second in UTC, the key used to
// make ticks idempotent.
func TickTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}

// RunTick allocates input for the hub's battery at ts and commits the new
// battery charge together with the allocation record.
//
// Re-running a tick with the same hubID and ts returns the stored record
// without applying it again. If consumption cannot be covered an
// *types.InsufficientSupplyError is returned and nothing is written.
func (r *Recorder) RunTick(ctx context.Context, hubID string, ts time.Time, input types.TickInput) (types.AllocationRecord, error) {
	if err := input.Validate(); err != nil {
		return types.AllocationRecord{}, err
	}
	ts = TickTime(ts)

	hub, err := r.db.GetHub(ctx, hubID)
	if err != nil {
		return types.AllocationRecord{}, err
	}

	unlock := r.locks.Lock(hub.BatteryID)
	defer unlock()

	existing, err := r.db.GetAllocation(ctx, hub.ID, ts)
	if err != nil {
		return types.AllocationRecord{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	battery, err := r.db.GetBattery(ctx, hub.BatteryID)
	if err != nil {
		return types.AllocationRecord{}, err
	}
	battery.HubID = hub.ID

	rec, err := allocator.Allocate(input, battery, ts.In(r.loc))
	if err != nil {
		var supplyErr *types.InsufficientSupplyError
		if errors.As(err, &supplyErr) {
			supplyErr.HubID = hub.ID
		}
		return types.AllocationRecord{}, err
	}

	rec.Timestamp = ts
	battery.ChargeKWH = rec.BatteryChargeKWH
	err = r.db.CommitTick(ctx, battery, rec)
	if errors.Is(err, types.ErrTickAlreadyRecorded) {
		stored, getErr := r.db.GetAllocation(ctx, hub.ID, ts)
		if getErr != nil {
			return types.AllocationRecord{}, getErr
		}
		if stored == nil {
			return types.AllocationRecord{}, fmt.Errorf("%w: tick for hub %s at %s reported as recorded but not found", types.ErrStorage, hub.ID, ts.Format(time.RFC3339))
		}
		return *stored, nil
	}
	if err != nil {
		return types.AllocationRecord{}, err
	}
	return rec, nil
}
