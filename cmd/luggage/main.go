package main

import (
	"context"
	"errors"

	"github.com/pixelvide/luggage-go/pkg/queue"
	"github.com/pixelvide/luggage-go/pkg/retry"
	"github.com/pixelvide/luggage-go/pkg/root"
	"github.com/pixelvide/luggage-go/pkg/telemetry"

	_ "github.com/pixelvide/luggage-go/pkg/console" // Register commands
)

// HelloJob greets the name in its payload.
type HelloJob struct {
	Name string
}

// NewHelloJob builds a HelloJob from its payload.
func NewHelloJob(payload queue.Payload) (queue.Job, error) {
	name, ok := payload["name"].(string)
	if !ok || name == "" {
		return nil, errors.New("payload needs a non-empty name")
	}
	return &HelloJob{Name: name}, nil
}

func (j *HelloJob) Handle(ctx context.Context) error {
	logger := telemetry.LoggerFromContext(ctx)
	logger.Info().Str("name", j.Name).Msg("Hello")
	return nil
}

// MaxAttempts and Backoff make HelloJob a queue.RetryableJob.
func (j *HelloJob) MaxAttempts() int {
	return 5
}

func (j *HelloJob) Backoff() retry.Strategy {
	return retry.Constant{Seconds: 2}
}

// EchoHandler logs every payload it receives
func EchoHandler(ctx context.Context, payload queue.Payload) error {
	telemetry.LoggerFromContext(ctx).Info().Any("payload", map[string]any(payload)).Msg("Echo")
	return nil
}

func main() {
	queue.Define("hello", queue.Definition{FromPayload: NewHelloJob})
	queue.Register("echo", EchoHandler)

	root.Execute()
}
