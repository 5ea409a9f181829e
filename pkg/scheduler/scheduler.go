// Package scheduler periodically ticks every hub, generates suggestions and
// cleans up old ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/locker"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/notify"
	"github.com/raterudder/energyhub/pkg/recorder"
	"github.com/raterudder/energyhub/pkg/simulate"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/suggestion"
	"github.com/raterudder/energyhub/pkg/types"
	"golang.org/x/sync/errgroup"
)

// TickSource supplies the demand and supply of a hub for one interval.
type TickSource interface {
	Next(ctx context.Context, hub types.Hub, at time.Time, interval time.Duration) (types.TickInput, error)
}

// TickRunner runs one allocation tick for a hub.
type TickRunner interface {
	RunTick(ctx context.Context, hubID string, ts time.Time, input types.TickInput) (types.AllocationRecord, error)
}

// Suggester generates and cleans up suggestions.
type Suggester interface {
	Generate(ctx context.Context, batteryID string) ([]types.Suggestion, error)
	CleanOldSuggestions(ctx context.Context) (int, error)
}

// Scheduler drives the recorder and the suggestion engine on fixed intervals.
type Scheduler struct {
	db          storage.Database
	source      TickSource
	ticks       TickRunner
	suggestions Suggester

	tickInterval       time.Duration
	suggestionInterval time.Duration
	parallelism        int
	loc                *time.Location
	now                func() time.Time

	// lastDay is only touched by the Run goroutine.
	lastDay string
}

// Config holds the scheduler's tunables.
type Config struct {
	TickInterval       time.Duration
	SuggestionInterval time.Duration
	Parallelism        int
	Location           *time.Location
}

// New creates a Scheduler. Zero values in cfg fall back to a one minute
// tick, an hourly suggestion pass, four parallel hubs and UTC.
func New(db storage.Database, source TickSource, ticks TickRunner, suggestions Suggester, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.SuggestionInterval <= 0 {
		cfg.SuggestionInterval = time.Hour
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		db:                 db,
		source:             source,
		ticks:              ticks,
		suggestions:        suggestions,
		tickInterval:       cfg.TickInterval,
		suggestionInterval: cfg.SuggestionInterval,
		parallelism:        cfg.Parallelism,
		loc:                cfg.Location,
		now:                time.Now,
	}
}

// Configured registers the scheduler flags and builds the recorder, the
// suggestion engine and the simulated tick source once flags are parsed.
func Configured(db storage.Database, sink notify.Sink) *Scheduler {
	s := &Scheduler{db: db, now: time.Now}

	tickInterval := lflag.Duration("tick-interval", time.Minute, "How often every hub is ticked")
	suggestionInterval := lflag.Duration("suggestion-interval", time.Hour, "How often suggestions are generated for every battery")
	timezone := lflag.String("timezone", "UTC", "IANA time zone used for charge windows and calendar days")
	parallelism := lflag.String("tick-parallelism", "4", "Maximum number of hubs ticked at once")
	demoSeed := lflag.String("demo-seed", "", "Seed for the simulated tick source, random if empty")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Errorf("invalid timezone %q: %w", *timezone, err))
		}
		n, err := strconv.Atoi(*parallelism)
		if err != nil || n <= 0 {
			panic(fmt.Errorf("invalid tick-parallelism %q", *parallelism))
		}
		seed := time.Now().UnixNano()
		if *demoSeed != "" {
			seed, err = strconv.ParseInt(*demoSeed, 10, 64)
			if err != nil {
				panic(fmt.Errorf("invalid demo-seed %q: %w", *demoSeed, err))
			}
		}

		locks := locker.New()
		*s = *New(
			db,
			simulate.NewSeeded(seed),
			recorder.New(db, locks, loc),
			suggestion.New(db, sink, locks, loc),
			Config{
				TickInterval:       *tickInterval,
				SuggestionInterval: *suggestionInterval,
				Parallelism:        n,
				Location:           loc,
			},
		)
		log.Ctx(context.Background()).Info(
			"scheduler configured",
			slog.Duration("tickInterval", s.tickInterval),
			slog.Duration("suggestionInterval", s.suggestionInterval),
			slog.String("timezone", loc.String()),
			slog.Int64("seed", seed),
		)
	})

	return s
}

// Run ticks and generates suggestions until ctx is cancelled. A tick and a
// suggestion pass run immediately on start.
func (s *Scheduler) Run(ctx context.Context) error {
	tickTicker := time.NewTicker(s.tickInterval)
	defer tickTicker.Stop()
	suggestionTicker := time.NewTicker(s.suggestionInterval)
	defer suggestionTicker.Stop()

	log.Ctx(ctx).InfoContext(ctx, "starting scheduler")
	s.tickOnce(ctx)
	s.suggestOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "stopping scheduler")
			return nil
		case <-tickTicker.C:
			s.tickOnce(ctx)
		case <-suggestionTicker.C:
			s.suggestOnce(ctx)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	at := s.now().Truncate(s.tickInterval)
	summary, err := s.TickAll(ctx, at)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to tick hubs", slog.Any("error", err))
		return
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"ticked hubs",
		slog.Time("at", at),
		slog.Int("hubs", summary.Hubs),
		slog.Int("recorded", summary.Recorded),
		slog.Int("tripped", summary.Tripped),
		slog.Int("failed", summary.Failed),
	)
}

func (s *Scheduler) suggestOnce(ctx context.Context) {
	if err := s.CleanOnRollover(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to clean old suggestions", slog.Any("error", err))
	}
	if _, err := s.GenerateAll(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate suggestions", slog.Any("error", err))
	}
}

// TickSummary counts the outcome of one tick across all hubs.
type TickSummary struct {
	Hubs     int
	Recorded int
	Tripped  int
	Failed   int
}

// TickAll runs the tick at at for every hub, at most parallelism at a time.
// Per-hub failures are logged and counted, not returned; only failing to
// list hubs is an error. A tripped breaker triggers suggestion generation
// for the hub's battery.
func (s *Scheduler) TickAll(ctx context.Context, at time.Time) (TickSummary, error) {
	hubs, err := s.db.ListHubs(ctx)
	if err != nil {
		return TickSummary{}, err
	}

	var recorded, tripped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, hub := range hubs {
		hub := hub
		g.Go(func() error {
			hctx := log.WithAttrs(gctx, slog.String("hubID", hub.ID))
			switch err := s.tickHub(hctx, hub, at); {
			case err == nil:
				recorded.Add(1)
			case errors.Is(err, types.ErrInsufficientSupply):
				tripped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return TickSummary{
		Hubs:     len(hubs),
		Recorded: int(recorded.Load()),
		Tripped:  int(tripped.Load()),
		Failed:   int(failed.Load()),
	}, nil
}

func (s *Scheduler) tickHub(ctx context.Context, hub types.Hub, at time.Time) error {
	input, err := s.source.Next(ctx, hub, at, s.tickInterval)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read tick input", slog.Any("error", err))
		return err
	}

	rec, err := s.ticks.RunTick(ctx, hub.ID, at, input)
	var ise *types.InsufficientSupplyError
	switch {
	case errors.As(err, &ise):
		log.Ctx(ctx).WarnContext(
			ctx,
			"breaker tripped",
			slog.String("batteryID", hub.BatteryID),
			slog.Float64("residualKWH", ise.ResidualKWH),
			slog.Float64("consumptionKWH", input.ConsumptionKWH),
		)
		if _, gerr := s.suggestions.Generate(ctx, hub.BatteryID); gerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to generate suggestions after breaker trip", slog.Any("error", gerr))
		}
		return err
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
		return err
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"tick recorded",
		slog.Float64("batteryChargeKWH", rec.BatteryChargeKWH),
		slog.Float64("netGridKWH", rec.NetGridKWH()),
	)
	return nil
}

// GenerateAll generates suggestions for every hub's battery and returns how
// many were created. Failures for one battery are logged and skipped.
func (s *Scheduler) GenerateAll(ctx context.Context) (int, error) {
	hubs, err := s.db.ListHubs(ctx)
	if err != nil {
		return 0, err
	}

	var created atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, hub := range hubs {
		hub := hub
		g.Go(func() error {
			bctx := log.WithAttrs(gctx, slog.String("batteryID", hub.BatteryID))
			sugs, err := s.suggestions.Generate(bctx, hub.BatteryID)
			if err != nil {
				log.Ctx(bctx).ErrorContext(bctx, "failed to generate suggestions", slog.Any("error", err))
				return nil
			}
			for _, sug := range sugs {
				log.Ctx(bctx).InfoContext(bctx, "suggestion created", slog.String("suggestionID", sug.ID), slog.String("type", string(sug.Type)))
			}
			created.Add(int32(len(sugs)))
			return nil
		})
	}
	_ = g.Wait()
	return int(created.Load()), nil
}

// CleanOnRollover deletes old suggestions the first time it is called on a
// new local day.
func (s *Scheduler) CleanOnRollover(ctx context.Context) error {
	day := types.DayString(s.now(), s.loc)
	if day == s.lastDay {
		return nil
	}
	n, err := s.suggestions.CleanOldSuggestions(ctx)
	if err != nil {
		return err
	}
	s.lastDay = day
	log.Ctx(ctx).InfoContext(ctx, "cleaned old suggestions", slog.String("day", day), slog.Int("deleted", n))
	return nil
}
