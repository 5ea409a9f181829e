// Package notify delivers user-facing notifications such as applied
// suggestions.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
)

// Sink delivers a notification to a user.
type Sink interface {
	Notify(ctx context.Context, userID, title, description string) error
}

// Configured sets up the notification Sink based on flags.
func Configured() Sink {
	provider := lflag.String("notify-provider", "log", "Notification provider to use (available: log, amqp)")

	var s struct{ Sink }

	amqpSink := configuredAMQP()

	lflag.Do(func() {
		switch *provider {
		case "log":
			s.Sink = LogSink{}
		case "amqp":
			if err := amqpSink.Validate(); err != nil {
				panic(fmt.Sprintf("amqp validation failed: %v", err))
			}
			if err := amqpSink.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("amqp init failed: %v", err))
			}
			s.Sink = amqpSink
		default:
			panic(fmt.Sprintf("unknown notify provider: %s", *provider))
		}
	})

	return &s
}

// LogSink writes notifications to the context logger.
type LogSink struct{}

// Notify logs the notification at info level.
func (LogSink) Notify(ctx context.Context, userID, title, description string) error {
	log.Ctx(ctx).InfoContext(
		ctx,
		"notification",
		slog.String("userID", userID),
		slog.String("title", title),
		slog.String("description", description),
	)
	return nil
}
