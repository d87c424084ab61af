package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pixelvide/luggage-go/pkg/queue"
)

// DeadSuffix names the dead-letter queue of a queue: "<queue>-dead".
const DeadSuffix = "-dead"

// MemoryDriver is a process-local queue for tests and single-process runs.
// Each queue is kept in enqueue order. Envelopes are copied on the way in, so
// a caller never shares an envelope with the driver.
type MemoryDriver struct {
	mu       sync.Mutex
	queues   map[string][]*queue.Envelope
	failures map[string]*queue.DeadLetter
	now      func() time.Time
}

// Option configures a MemoryDriver
type Option func(*MemoryDriver)

// WithClock replaces time.Now for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(d *MemoryDriver) {
		d.now = now
	}
}

// NewMemoryDriver creates an empty in-memory driver
func NewMemoryDriver(opts ...Option) *MemoryDriver {
	d := &MemoryDriver{
		queues:   make(map[string][]*queue.Envelope),
		failures: make(map[string]*queue.DeadLetter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends the envelope to the back of the queue.
func (d *MemoryDriver) Enqueue(ctx context.Context, queueName string, env *queue.Envelope) error {
	if queueName == "" {
		return fmt.Errorf("%w: empty name", queue.ErrInvalidQueueName)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.push(queueName, env)
	return nil
}

func (d *MemoryDriver) push(queueName string, env *queue.Envelope) *queue.Envelope {
	cp := *env
	cp.Payload = env.Payload.Clone()
	d.queues[queueName] = append(d.queues[queueName], &cp)
	return &cp
}

// Reserve removes and returns the first envelope, in enqueue order, that is
// eligible now. Ineligible envelopes ahead of it are skipped, not blocking.
func (d *MemoryDriver) Reserve(ctx context.Context, queueName string) (*queue.Envelope, error) {
	if queueName == "" {
		return nil, fmt.Errorf("%w: empty name", queue.ErrInvalidQueueName)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	list := d.queues[queueName]
	for i, env := range list {
		if env.AvailableAt.After(now) {
			continue
		}
		d.queues[queueName] = append(list[:i:i], list[i+1:]...)
		return env, nil
	}
	return nil, nil
}

// Ack is a no-op: the envelope left the queue when it was reserved.
func (d *MemoryDriver) Ack(ctx context.Context, queueName string, env *queue.Envelope) error {
	return nil
}

// Release appends the envelope to the back of the same queue.
func (d *MemoryDriver) Release(ctx context.Context, queueName string, env *queue.Envelope) error {
	return d.Enqueue(ctx, queueName, env)
}

// Fail appends the envelope to "<queue>-dead" and keeps its error metadata.
func (d *MemoryDriver) Fail(ctx context.Context, queueName string, env *queue.Envelope, cause error) error {
	if queueName == "" {
		return fmt.Errorf("%w: empty name", queue.ErrInvalidQueueName)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := d.push(queueName+DeadSuffix, env)
	d.failures[env.ID] = queue.NewDeadLetter(stored, cause, d.now())
	return nil
}

// Len returns the number of ready envelopes in the queue.
func (d *MemoryDriver) Len(queueName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[queueName])
}

// DeadLetters returns copies of the dead-lettered envelopes of queueName
// with their captured errors, in the order they failed.
func (d *MemoryDriver) DeadLetters(queueName string) []*queue.DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()

	dead := d.queues[queueName+DeadSuffix]
	out := make([]*queue.DeadLetter, 0, len(dead))
	for _, env := range dead {
		cp := *env
		cp.Payload = env.Payload.Clone()
		dl := queue.DeadLetter{Envelope: &cp}
		if failure, ok := d.failures[env.ID]; ok {
			dl.Error = failure.Error
			dl.FailedAt = failure.FailedAt
		}
		out = append(out, &dl)
	}
	return out
}
