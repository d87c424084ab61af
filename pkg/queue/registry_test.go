package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetJob struct {
	name string
}

func (j *greetJob) Handle(ctx context.Context) error { return nil }

func (j *greetJob) SetPayload(payload Payload) {
	j.name, _ = payload["name"].(string)
}

type bareJob struct{}

func (bareJob) Handle(ctx context.Context) error { return nil }

func TestRegistry_FromPayload(t *testing.T) {
	r := NewRegistry()
	r.Define("Greet", Definition{
		FromPayload: func(p Payload) (Job, error) {
			name, ok := p["name"].(string)
			if !ok {
				return nil, errors.New("name is required")
			}
			return &greetJob{name: name}, nil
		},
		Zero: func() Job { return bareJob{} },
	})

	job, err := r.Make("Greet", Payload{"name": "Luggage"})
	require.NoError(t, err)
	assert.Equal(t, "Luggage", job.(*greetJob).name)

	_, err = r.Make("Greet", Payload{})
	assert.True(t, errors.Is(err, ErrCannotConstruct))
	assert.Contains(t, err.Error(), "name is required")
}

func TestRegistry_New(t *testing.T) {
	r := NewRegistry()
	r.Define("Greet", Definition{
		New: func(p Payload) Job { return &greetJob{name: p["name"].(string)} },
	})

	job, err := r.Make("Greet", Payload{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", job.(*greetJob).name)
}

func TestRegistry_ZeroWithSetter(t *testing.T) {
	r := NewRegistry()
	r.Define("Greet", Definition{Zero: func() Job { return &greetJob{} }})
	r.Define("Bare", Definition{Zero: func() Job { return bareJob{} }})

	job, err := r.Make("Greet", Payload{"name": "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", job.(*greetJob).name)

	_, err = r.Make("Bare", nil)
	assert.True(t, errors.Is(err, ErrCannotConstruct))
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()
	r.Define("Empty", Definition{})

	_, err := r.Make("Missing", nil)
	assert.True(t, errors.Is(err, ErrUnknownJobType))

	_, err = r.Make("Empty", nil)
	assert.True(t, errors.Is(err, ErrCannotConstruct))
}

func TestRegistry_RegisterHandler(t *testing.T) {
	r := NewRegistry()
	var got Payload
	r.Register("Func", func(ctx context.Context, payload Payload) error {
		got = payload
		return nil
	})

	payload := Payload{"a": "b"}
	job, err := r.Make("Func", payload)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background()))

	assert.Equal(t, payload, got)
	payload["a"] = "mutated"
	assert.Equal(t, "b", got["a"])
	assert.Equal(t, []string{"Func"}, r.Types())
}
