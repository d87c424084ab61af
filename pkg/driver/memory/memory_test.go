package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvide/luggage-go/pkg/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryDriver_EnqueueReserveAck(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	env := queue.NewEnvelope("Job", queue.Payload{"foo": "bar"})
	require.NoError(t, d.Enqueue(ctx, "default", env))

	reserved, err := d.Reserve(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, env.ID, reserved.ID)
	assert.Equal(t, "bar", reserved.Payload["foo"])

	require.NoError(t, d.Ack(ctx, "default", reserved))

	again, err := d.Reserve(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Empty(t, d.DeadLetters("default"))
}

func TestMemoryDriver_ReserveRespectsAvailableAt(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	d := NewMemoryDriver(WithClock(clock.Now))

	env := queue.NewEnvelope("Job", nil, queue.WithAvailableAt(clock.Now().Add(10*time.Second)))
	require.NoError(t, d.Enqueue(ctx, "default", env))

	got, err := d.Reserve(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, got, "should not reserve before availableAt")

	clock.Advance(10 * time.Second)
	got, err = d.Reserve(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, env.ID, got.ID)
}

func TestMemoryDriver_SkipsIneligibleHead(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	d := NewMemoryDriver(WithClock(clock.Now))

	later := queue.NewEnvelope("Later", nil, queue.WithAvailableAt(clock.Now().Add(time.Hour)))
	first := queue.NewEnvelope("First", nil, queue.WithAvailableAt(clock.Now()))
	second := queue.NewEnvelope("Second", nil, queue.WithAvailableAt(clock.Now()))
	for _, env := range []*queue.Envelope{later, first, second} {
		require.NoError(t, d.Enqueue(ctx, "default", env))
	}

	got, _ := d.Reserve(ctx, "default")
	assert.Equal(t, first.ID, got.ID)
	got, _ = d.Reserve(ctx, "default")
	assert.Equal(t, second.ID, got.ID)
	got, _ = d.Reserve(ctx, "default")
	assert.Nil(t, got)
	assert.Equal(t, 1, d.Len("default"))
}

func TestMemoryDriver_ReleaseAppendsToBack(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	a := queue.NewEnvelope("A", nil)
	b := queue.NewEnvelope("B", nil)
	require.NoError(t, d.Enqueue(ctx, "default", a))
	require.NoError(t, d.Enqueue(ctx, "default", b))

	got, _ := d.Reserve(ctx, "default")
	require.Equal(t, a.ID, got.ID)
	got.Attempts = 1
	require.NoError(t, d.Release(ctx, "default", got))

	next, _ := d.Reserve(ctx, "default")
	assert.Equal(t, b.ID, next.ID)
	last, _ := d.Reserve(ctx, "default")
	assert.Equal(t, a.ID, last.ID)
	assert.Equal(t, 1, last.Attempts)
}

func TestMemoryDriver_FailMovesToDeadQueue(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	env := queue.NewEnvelope("Job", nil)
	require.NoError(t, d.Enqueue(ctx, "default", env))
	got, _ := d.Reserve(ctx, "default")
	got.Attempts = 3

	require.NoError(t, d.Fail(ctx, "default", got, errors.New("nope")))

	none, _ := d.Reserve(ctx, "default")
	assert.Nil(t, none)

	dead := d.DeadLetters("default")
	require.Len(t, dead, 1)
	assert.Equal(t, env.ID, dead[0].Envelope.ID)
	assert.Equal(t, 3, dead[0].Envelope.Attempts)
	assert.Equal(t, "nope", dead[0].Error.Message)

	fromDead, err := d.Reserve(ctx, "default-dead")
	require.NoError(t, err)
	assert.Equal(t, env.ID, fromDead.ID)
}

func TestMemoryDriver_DeadLettersAreCopies(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	env := queue.NewEnvelope("Job", queue.Payload{"k": "v"})
	require.NoError(t, d.Enqueue(ctx, "default", env))
	got, _ := d.Reserve(ctx, "default")
	require.NoError(t, d.Fail(ctx, "default", got, errors.New("nope")))

	dead := d.DeadLetters("default")
	require.Len(t, dead, 1)
	dead[0].Envelope.Attempts = 99
	dead[0].Envelope.Payload["k"] = "changed"
	dead[0].Error.Message = "rewritten"

	again := d.DeadLetters("default")
	require.Len(t, again, 1)
	assert.Equal(t, 0, again[0].Envelope.Attempts)
	assert.Equal(t, "v", again[0].Envelope.Payload["k"])
	assert.Equal(t, "nope", again[0].Error.Message)
}

func TestMemoryDriver_EnqueueCopies(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	env := queue.NewEnvelope("Job", queue.Payload{"k": "v"})
	require.NoError(t, d.Enqueue(ctx, "default", env))
	env.Payload["k"] = "changed"
	env.Attempts = 9

	got, _ := d.Reserve(ctx, "default")
	assert.Equal(t, "v", got.Payload["k"])
	assert.Equal(t, 0, got.Attempts)
}

func TestMemoryDriver_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()
	require.NoError(t, d.Enqueue(ctx, "default", queue.NewEnvelope("Job", nil)))

	var wg sync.WaitGroup
	results := make(chan *queue.Envelope, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := d.Reserve(ctx, "default")
			assert.NoError(t, err)
			results <- env
		}()
	}
	wg.Wait()
	close(results)

	claimed := 0
	for env := range results {
		if env != nil {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestMemoryDriver_InvalidQueue(t *testing.T) {
	d := NewMemoryDriver()
	err := d.Enqueue(context.Background(), "", queue.NewEnvelope("Job", nil))
	assert.True(t, errors.Is(err, queue.ErrInvalidQueueName))

	_, err = d.Reserve(context.Background(), "")
	assert.True(t, errors.Is(err, queue.ErrInvalidQueueName))
}
