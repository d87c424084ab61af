package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pixelvide/luggage-go/pkg/config"
	"github.com/pixelvide/luggage-go/pkg/queue"
	"github.com/pixelvide/luggage-go/pkg/retry"
)

const tracerName = "github.com/pixelvide/luggage-go/pkg/worker"

// Options controls one worker loop.
type Options struct {
	// Queue is the queue to poll.
	Queue string
	// Sleep is the idle wait after an empty poll.
	Sleep time.Duration
	// StopWhenEmpty stops the loop on the first empty poll.
	StopWhenEmpty bool
	// MemoryLimitMB stops the loop once the process holds more memory.
	// Zero disables the check.
	MemoryLimitMB int
}

// DefaultOptions polls the default queue once a second.
func DefaultOptions() Options {
	return Options{
		Queue: queue.DefaultQueue,
		Sleep: time.Second,
	}
}

// OptionsFromConfig builds Options from the environment configuration.
func OptionsFromConfig(cfg config.WorkerConfig) Options {
	return Options{
		Queue:         cfg.Queue,
		Sleep:         cfg.Sleep,
		StopWhenEmpty: cfg.StopWhenEmpty,
		MemoryLimitMB: cfg.MemoryLimitMB,
	}
}

func (o Options) queueName() string {
	if o.Queue == "" {
		return queue.DefaultQueue
	}
	return o.Queue
}

// Worker reserves envelopes one at a time and executes them
type Worker struct {
	Driver         queue.Driver
	Factory        queue.Factory
	FailedProvider queue.FailedJobProvider
	// Connection names the driver in failed job logs.
	Connection string
	// Backoff is used for jobs that do not supply their own strategy.
	Backoff     retry.Strategy
	Logger      zerolog.Logger
	Now         func() time.Time
	MemoryUsage func() uint64

	tracer trace.Tracer
}

// NewWorker creates a new worker instance. A nil factory resolves jobs from
// queue.DefaultRegistry and a nil tracer uses the global provider.
func NewWorker(driver queue.Driver, factory queue.Factory, tracer trace.Tracer) *Worker {
	if factory == nil {
		factory = queue.DefaultRegistry
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Worker{
		Driver:      driver,
		Factory:     factory,
		Backoff:     retry.Default(),
		Logger:      zerolog.Nop(),
		Now:         time.Now,
		MemoryUsage: processMemory,
		tracer:      tracer,
	}
}

// Run polls until ctx is cancelled, the memory limit is hit or, with
// StopWhenEmpty, the queue is empty. A configuration error from the driver
// stops the loop and is returned; other driver errors are logged.
func (w *Worker) Run(ctx context.Context, opts Options) error {
	logger := w.Logger.With().Str("queue", opts.queueName()).Logger()
	logger.Info().Msg("Worker started")
	defer logger.Info().Msg("Worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if w.memoryExceeded(opts) {
			logger.Warn().Int("limit_mb", opts.MemoryLimitMB).Msg("Memory limit reached")
			return nil
		}

		processed, err := w.RunOnce(ctx, opts)
		if err != nil {
			if isConfigError(err) {
				return err
			}
			logger.Error().Err(err).Msg("Worker iteration failed")
		}
		if processed {
			continue
		}

		if opts.StopWhenEmpty && err == nil {
			logger.Info().Msg("No jobs, exiting")
			return nil
		}

		if !sleep(ctx, opts.Sleep) {
			return nil
		}
	}
}

// RunOnce performs one reserve and execute cycle. It reports whether an
// envelope was processed; storage errors are returned, job errors are not.
func (w *Worker) RunOnce(ctx context.Context, opts Options) (bool, error) {
	queueName := opts.queueName()

	env, err := w.Driver.Reserve(ctx, queueName)
	if err != nil {
		return false, fmt.Errorf("reserve from %s: %w", queueName, err)
	}
	if env == nil {
		return false, nil
	}
	return true, w.process(ctx, queueName, env)
}

func (w *Worker) process(ctx context.Context, queueName string, env *queue.Envelope) error {
	ctx, span := w.tracer.Start(ctx, "queue.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
			attribute.String("job.id", env.ID),
			attribute.String("job.type", env.JobType),
			attribute.Int("job.attempts", env.Attempts),
		),
	)
	defer span.End()

	logger := w.Logger.With().
		Str("queue", queueName).
		Str("job_id", env.ID).
		Str("job_type", env.JobType).
		Logger()
	ctx = logger.WithContext(ctx)

	logger.Debug().Int("attempts", env.Attempts).Msg("Processing job")

	strategy, err := w.execute(ctx, env)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		if ackErr := w.Driver.Ack(ctx, queueName, env); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Error acknowledging job")
			return fmt.Errorf("ack %s: %w", env.ID, ackErr)
		}
		logger.Info().Msg("Job done")
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	env.Attempts++
	span.SetAttributes(attribute.Int("job.attempts", env.Attempts))
	logger.Error().Err(err).
		Int("attempts", env.Attempts).
		Int("max_attempts", env.MaxAttempts).
		Msg("Job failed")

	if env.Attempts >= env.MaxAttempts {
		return w.deadLetter(ctx, logger, queueName, env, err)
	}

	delay := strategy.NextDelay(env.Attempts, err)
	env.AvailableAt = w.Now().Add(delay)
	if relErr := w.Driver.Release(ctx, queueName, env); relErr != nil {
		logger.Error().Err(relErr).Msg("Error releasing job")
		return fmt.Errorf("release %s: %w", env.ID, relErr)
	}
	logger.Info().Int("attempts", env.Attempts).Dur("delay", delay).Msg("Job released for retry")
	return nil
}

// execute resolves and runs the job. Construction errors are returned like
// job errors so they count as an attempt.
func (w *Worker) execute(ctx context.Context, env *queue.Envelope) (retry.Strategy, error) {
	strategy := w.Backoff
	if strategy == nil {
		strategy = retry.Default()
	}

	job, err := w.Factory.Make(env.JobType, env.Payload)
	if err != nil {
		return strategy, err
	}

	if rj, ok := job.(queue.RetryableJob); ok {
		env.MaxAttempts = max(1, rj.MaxAttempts())
		if b := rj.Backoff(); b != nil {
			strategy = b
		}
	}
	return strategy, handle(ctx, job)
}

func handle(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &queue.PanicError{Value: r}
		}
	}()
	return job.Handle(ctx)
}

func (w *Worker) deadLetter(ctx context.Context, logger zerolog.Logger, queueName string, env *queue.Envelope, cause error) error {
	if err := w.Driver.Fail(ctx, queueName, env, cause); err != nil {
		logger.Error().Err(err).Msg("Error moving job to dead-letter")
		return fmt.Errorf("fail %s: %w", env.ID, err)
	}
	logger.Error().Err(cause).Int("attempts", env.Attempts).Msg("Job moved to dead-letter")

	if w.FailedProvider == nil {
		return nil
	}
	dl := queue.NewDeadLetter(env, cause, w.Now())
	record, err := dl.Encode()
	if err != nil {
		return err
	}
	if err := w.FailedProvider.Log(ctx, w.Connection, queueName, record, dl.Error); err != nil {
		logger.Error().Err(err).Msg("Error logging failed job")
		return fmt.Errorf("log failed job %s: %w", env.ID, err)
	}
	return nil
}

func (w *Worker) memoryExceeded(opts Options) bool {
	if opts.MemoryLimitMB <= 0 || w.MemoryUsage == nil {
		return false
	}
	return w.MemoryUsage() > uint64(opts.MemoryLimitMB)*1024*1024
}

func processMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

func isConfigError(err error) bool {
	return errors.Is(err, queue.ErrInvalidQueueName) || errors.Is(err, fs.ErrPermission)
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
