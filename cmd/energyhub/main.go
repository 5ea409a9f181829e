package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/notify"
	"github.com/raterudder/energyhub/pkg/scheduler"
	"github.com/raterudder/energyhub/pkg/simulate"
	"github.com/raterudder/energyhub/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	n := notify.Configured()

	// init scheduler
	sched := scheduler.Configured(s, n)

	demoHubs := lflag.String("demo-hubs", "0", "Number of simulated hubs to seed on startup")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, ok := log.LevelFromLLog(llog.GetLevel())
	if !ok {
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	if c, ok := n.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to close notifier", slog.Any("error", err))
			}
		}()
	}

	if count, err := strconv.Atoi(*demoHubs); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid demo-hubs", slog.String("value", *demoHubs))
		os.Exit(1)
	} else if count > 0 {
		src := simulate.NewSeeded(time.Now().UnixNano())
		if _, err := src.Seed(ctx, s, count, time.Now()); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed demo hubs", slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded demo hubs", slog.Int("count", count))
	}

	// Run blocks until the context is cancelled
	if err := sched.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "scheduler exited cleanly")
}
