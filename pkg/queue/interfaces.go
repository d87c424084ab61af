package queue

import (
	"context"

	"github.com/pixelvide/luggage-go/pkg/retry"
)

// Driver defines the interface for queue backends.
//
// Every backend implements the same envelope lifecycle:
// ready -> reserved -> {ready (Release), gone (Ack), dead (Fail)}.
type Driver interface {
	// Enqueue stores the envelope in ready state.
	Enqueue(ctx context.Context, queueName string, env *Envelope) error
	// Reserve claims one eligible envelope. It never blocks and returns
	// (nil, nil) when nothing is eligible. At most one caller receives a
	// given envelope.
	Reserve(ctx context.Context, queueName string) (*Envelope, error)
	// Ack removes a reserved envelope permanently.
	Ack(ctx context.Context, queueName string, env *Envelope) error
	// Release returns a reserved envelope to ready using its current fields.
	Release(ctx context.Context, queueName string, env *Envelope) error
	// Fail moves a reserved envelope to the queue's dead-letter store.
	Fail(ctx context.Context, queueName string, env *Envelope, cause error) error
}

// Job is an executable unit of work
type Job interface {
	Handle(ctx context.Context) error
}

// RetryableJob is a Job that customises its own retry policy.
type RetryableJob interface {
	Job
	MaxAttempts() int
	Backoff() retry.Strategy
}

// PayloadSetter is implemented by jobs built with a zero-value constructor.
type PayloadSetter interface {
	SetPayload(payload Payload)
}

// Factory resolves a job type and payload into an executable job.
type Factory interface {
	Make(jobType string, payload Payload) (Job, error)
}
