// Package suggestion generates forecast-driven battery recommendations and
// applies or ignores them on the user's behalf.
package suggestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/energyhub/pkg/locker"
	"github.com/raterudder/energyhub/pkg/notify"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
)

// Engine evaluates suggestion rules for batteries and resolves suggestions.
// All operations that touch a battery are serialized per battery through
// the shared locker.
type Engine struct {
	db    storage.Database
	sink  notify.Sink
	locks *locker.Locker
	loc   *time.Location
	now   func() time.Time
	newID func() string
}

// New creates an Engine. Calendar days are evaluated in loc, UTC if nil.
func New(db storage.Database, sink notify.Sink, locks *locker.Locker, loc *time.Location) *Engine {
	if locks == nil {
		locks = locker.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		db:    db,
		sink:  sink,
		locks: locks,
		loc:   loc,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Generate evaluates every rule against the battery's latest forecast and
// current state and stores a new pending suggestion for each rule that fires
// and has not fired for the battery today. It returns the suggestions it
// created. A battery without a forecast produces nothing.
func (e *Engine) Generate(ctx context.Context, batteryID string) ([]types.Suggestion, error) {
	unlock := e.locks.Lock(batteryID)
	defer unlock()

	battery, err := e.db.GetBattery(ctx, batteryID)
	if err != nil {
		return nil, err
	}
	forecast, err := e.db.GetLatestForecast(ctx, batteryID)
	if err != nil {
		return nil, err
	}
	if forecast == nil {
		return nil, nil
	}

	now := e.now()
	day := types.DayString(now, e.loc)

	var created []types.Suggestion
	for _, c := range evaluate(battery, *forecast) {
		exists, err := e.db.SuggestionExists(ctx, batteryID, c.typ, day)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		s := types.Suggestion{
			ID:          e.newID(),
			BatteryID:   batteryID,
			Type:        c.typ,
			Status:      types.SuggestionStatusPending,
			Title:       c.title,
			Description: c.description,
			TimeSent:    now,
			Day:         day,
		}
		if err := e.db.InsertSuggestion(ctx, s); err != nil {
			if errors.Is(err, types.ErrDuplicateSuggestion) {
				continue
			}
			return created, err
		}
		created = append(created, s)
	}
	return created, nil
}

// Apply applies a pending suggestion's effect to its battery, marks it
// applied and notifies the hub owner. The battery change and the status
// change are committed together; if the notification fails both are rolled
// back and the error is returned.
func (e *Engine) Apply(ctx context.Context, id string) (types.Suggestion, error) {
	s, unlock, err := e.lockPending(ctx, id)
	if err != nil {
		return types.Suggestion{}, err
	}
	defer unlock()

	battery, err := e.db.GetBattery(ctx, s.BatteryID)
	if err != nil {
		return types.Suggestion{}, err
	}
	hub, err := e.db.GetHub(ctx, battery.HubID)
	if err != nil {
		return types.Suggestion{}, err
	}

	original := battery
	if original.ChargeWindow != nil {
		w := *original.ChargeWindow
		original.ChargeWindow = &w
	}

	if err := applyEffect(&battery, s.Type); err != nil {
		return types.Suggestion{}, err
	}
	if err := battery.Validate(); err != nil {
		return types.Suggestion{}, err
	}

	applied := s
	applied.Status = types.SuggestionStatusApplied
	if err := e.db.UpdateSuggestion(ctx, applied, &battery); err != nil {
		return types.Suggestion{}, err
	}

	if err := e.sink.Notify(ctx, hub.UserID, s.Title, s.Description); err != nil {
		notifyErr := fmt.Errorf("failed to notify owner of suggestion %s: %w", s.ID, err)
		// restore with a context that outlives a cancelled request
		if rbErr := e.db.UpdateSuggestion(context.WithoutCancel(ctx), s, &original); rbErr != nil {
			return types.Suggestion{}, errors.Join(notifyErr, fmt.Errorf("failed to roll back suggestion %s: %w", s.ID, rbErr))
		}
		return types.Suggestion{}, notifyErr
	}
	return applied, nil
}

// Ignore marks a pending suggestion as ignored.
func (e *Engine) Ignore(ctx context.Context, id string) (types.Suggestion, error) {
	s, unlock, err := e.lockPending(ctx, id)
	if err != nil {
		return types.Suggestion{}, err
	}
	defer unlock()

	s.Status = types.SuggestionStatusIgnored
	if err := e.db.UpdateSuggestion(ctx, s, nil); err != nil {
		return types.Suggestion{}, err
	}
	return s, nil
}

// lockPending locks the suggestion's battery and returns the suggestion as
// read under the lock. It fails with types.ErrInvalidState if the suggestion
// was already resolved.
func (e *Engine) lockPending(ctx context.Context, id string) (types.Suggestion, func(), error) {
	s, err := e.db.GetSuggestion(ctx, id)
	if err != nil {
		return types.Suggestion{}, nil, err
	}
	unlock := e.locks.Lock(s.BatteryID)

	s, err = e.db.GetSuggestion(ctx, id)
	if err != nil {
		unlock()
		return types.Suggestion{}, nil, err
	}
	if s.Status != types.SuggestionStatusPending {
		unlock()
		return types.Suggestion{}, nil, fmt.Errorf("%w: suggestion %s is %s", types.ErrInvalidState, id, s.Status)
	}
	return s, unlock, nil
}

// CleanOldSuggestions deletes every suggestion, whatever its status, sent
// before the start of today. Running it again deletes nothing more.
func (e *Engine) CleanOldSuggestions(ctx context.Context) (int, error) {
	today := types.TruncateDay(e.now().In(e.loc))
	return e.db.DeleteSuggestionsBefore(ctx, today)
}

// List returns the battery's current suggestions, oldest first.
func (e *Engine) List(ctx context.Context, batteryID string) ([]types.Suggestion, error) {
	return e.db.ListSuggestions(ctx, batteryID)
}
