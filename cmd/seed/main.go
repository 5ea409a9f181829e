package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
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
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	hubCount := lflag.String("hubs", "3", "Number of demo hubs to seed")
	seed := lflag.String("seed", "", "Random seed, current time if empty")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	n, err := strconv.Atoi(*hubCount)
	if err != nil || n <= 0 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid hub count", "hubs", *hubCount)
		os.Exit(1)
	}
	rngSeed := time.Now().UnixNano()
	if *seed != "" {
		if rngSeed, err = strconv.ParseInt(*seed, 10, 64); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid seed", "seed", *seed)
			os.Exit(1)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", "hubs", n, "seed", rngSeed)

	src := simulate.NewSeeded(rngSeed)
	now := time.Now()
	hubs, err := src.Seed(ctx, s, n, now)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed hubs", "error", err)
		os.Exit(1)
	}

	locks := locker.New()
	rec := recorder.New(s, locks, time.Local)
	engine := suggestion.New(s, notify.LogSink{}, locks, time.Local)

	// replay hourly ticks from local midnight to now through the same
	// allocator the scheduler uses
	start := types.TruncateDay(now)
	for _, hub := range hubs {
		for t := start; t.Before(now); t = t.Add(time.Hour) {
			input, err := src.Next(ctx, hub, t, time.Hour)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to simulate tick", "error", err)
				os.Exit(1)
			}
			r, err := rec.RunTick(ctx, hub.ID, t, input)
			if errors.Is(err, types.ErrInsufficientSupply) {
				fmt.Printf("%s %s: breaker tripped (%v)\n", hub.ID, t.Format(time.Kitchen), err)
				continue
			} else if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed tick", "error", err)
				os.Exit(1)
			}
			fmt.Printf("%s %s: home %.2fkWh, solar %.2fkWh, grid %+.2fkWh, battery %.2fkWh\n",
				hub.ID, t.Format(time.Kitchen), r.ConsumptionKWH, r.SolarKWH, r.NetGridKWH(), r.BatteryChargeKWH)
		}

		sugs, err := engine.Generate(ctx, hub.BatteryID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to generate suggestions", "error", err)
			os.Exit(1)
		}
		for _, sug := range sugs {
			fmt.Printf("%s: suggested %s\n", hub.ID, sug.Title)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
