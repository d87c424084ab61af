package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pixelvide/luggage-go/pkg/config"
	"github.com/pixelvide/luggage-go/pkg/queue"
)

// reserveBatch bounds how many candidates one Reserve call inspects.
const reserveBatch = 16

// RedisDriver implements queue.Driver on Redis.
//
// Per queue it keeps a hash of encoded envelopes, a sorted set of ready IDs
// scored by availableAt, a set of reserved IDs and a hash of dead records.
// ZREM on the ready set is the claim: only the caller that removes the ID
// owns the envelope.
type RedisDriver struct {
	Client *goredis.Client
	prefix string
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a RedisDriver
type Option func(*RedisDriver)

// WithClock replaces time.Now for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(r *RedisDriver) {
		r.now = now
	}
}

// WithLogger sets the logger used to report quarantined records.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *RedisDriver) {
		r.logger = logger
	}
}

// NewRedisDriver creates a new Redis driver instance
func NewRedisDriver(cfg config.RedisConfig, opts ...Option) *RedisDriver {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(rdb, cfg.Prefix, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client, prefix string, opts ...Option) *RedisDriver {
	if prefix == "" {
		prefix = "luggage"
	}
	r := &RedisDriver{
		Client: client,
		prefix: prefix,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type keys struct {
	envelopes string
	ready     string
	reserved  string
	dead      string
	corrupt   string
}

func (r *RedisDriver) keys(queueName string) (keys, error) {
	name, err := queue.SanitizeQueueName(queueName)
	if err != nil {
		return keys{}, err
	}
	base := r.prefix + ":" + name + ":"
	return keys{
		envelopes: base + "envelopes",
		ready:     base + "ready",
		reserved:  base + "reserved",
		dead:      base + "dead",
		corrupt:   base + "corrupt",
	}, nil
}

// Enqueue stores the envelope and marks it ready.
func (r *RedisDriver) Enqueue(ctx context.Context, queueName string, env *queue.Envelope) error {
	k, err := r.keys(queueName)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k.envelopes, env.ID, data)
		pipe.ZAdd(ctx, k.ready, goredis.Z{Score: float64(env.AvailableAtUnix()), Member: env.ID})
		return nil
	})
	return err
}

// Reserve claims the eligible envelope with the lowest availableAt (ties by ID).
func (r *RedisDriver) Reserve(ctx context.Context, queueName string) (*queue.Envelope, error) {
	k, err := r.keys(queueName)
	if err != nil {
		return nil, err
	}

	ids, err := r.Client.ZRangeByScore(ctx, k.ready, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(r.now().Unix(), 10),
		Count: reserveBatch,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		removed, err := r.Client.ZRem(ctx, k.ready, id).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			// Another worker won this one.
			continue
		}

		raw, err := r.Client.HGet(ctx, k.envelopes, id).Result()
		if errors.Is(err, goredis.Nil) {
			r.logger.Warn().Str("job_id", id).Msg("Ready id without envelope, dropping")
			continue
		}
		if err != nil {
			return nil, err
		}

		env, err := queue.Decode([]byte(raw))
		if err != nil {
			r.quarantine(ctx, k, id, raw, err)
			continue
		}
		if err := r.Client.SAdd(ctx, k.reserved, id).Err(); err != nil {
			return nil, err
		}
		return env, nil
	}
	return nil, nil
}

// Ack deletes the envelope.
func (r *RedisDriver) Ack(ctx context.Context, queueName string, env *queue.Envelope) error {
	k, err := r.keys(queueName)
	if err != nil {
		return err
	}
	_, err = r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, k.envelopes, env.ID)
		pipe.SRem(ctx, k.reserved, env.ID)
		return nil
	})
	return err
}

// Release stores the updated envelope and marks it ready at its availableAt.
func (r *RedisDriver) Release(ctx context.Context, queueName string, env *queue.Envelope) error {
	k, err := r.keys(queueName)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k.envelopes, env.ID, data)
		pipe.SRem(ctx, k.reserved, env.ID)
		pipe.ZAdd(ctx, k.ready, goredis.Z{Score: float64(env.AvailableAtUnix()), Member: env.ID})
		return nil
	})
	return err
}

// Fail moves the envelope into the dead hash with its error metadata.
func (r *RedisDriver) Fail(ctx context.Context, queueName string, env *queue.Envelope, cause error) error {
	k, err := r.keys(queueName)
	if err != nil {
		return err
	}
	data, err := queue.NewDeadLetter(env, cause, r.now()).Encode()
	if err != nil {
		return err
	}
	_, err = r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k.dead, env.ID, data)
		pipe.HDel(ctx, k.envelopes, env.ID)
		pipe.SRem(ctx, k.reserved, env.ID)
		return nil
	})
	return err
}

// DeadLetters returns the dead records of a queue. Unreadable ones are skipped.
func (r *RedisDriver) DeadLetters(ctx context.Context, queueName string) ([]*queue.DeadLetter, error) {
	k, err := r.keys(queueName)
	if err != nil {
		return nil, err
	}
	all, err := r.Client.HGetAll(ctx, k.dead).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*queue.DeadLetter, 0, len(all))
	for _, raw := range all {
		if dl, err := queue.DecodeDeadLetter([]byte(raw)); err == nil {
			out = append(out, dl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Envelope.ID < out[j].Envelope.ID
	})
	return out, nil
}

func (r *RedisDriver) quarantine(ctx context.Context, k keys, id, raw string, cause error) {
	_, err := r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k.corrupt, id, raw)
		pipe.HDel(ctx, k.envelopes, id)
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to quarantine corrupt envelope")
		return
	}
	r.logger.Warn().Err(cause).Str("job_id", id).Str("key", k.corrupt).Msg("Quarantined corrupt envelope")
}
