package queue

import (
	"context"
)

// DefaultQueue is used by Dispatch.
const DefaultQueue = "default"

// Publisher handles dispatching jobs to the queue
type Publisher struct {
	driver Driver
}

// NewPublisher creates a new Publisher instance
func NewPublisher(driver Driver) *Publisher {
	return &Publisher{driver: driver}
}

// Dispatch pushes a new job onto the default queue and returns its envelope ID.
func (p *Publisher) Dispatch(ctx context.Context, jobType string, payload Payload, opts ...EnvelopeOption) (string, error) {
	return p.DispatchToQueue(ctx, DefaultQueue, jobType, payload, opts...)
}

// DispatchToQueue pushes a new job to a specific queue
func (p *Publisher) DispatchToQueue(ctx context.Context, queueName string, jobType string, payload Payload, opts ...EnvelopeOption) (string, error) {
	env := NewEnvelope(jobType, payload, opts...)
	if err := p.driver.Enqueue(ctx, queueName, env); err != nil {
		return "", err
	}
	return env.ID, nil
}
