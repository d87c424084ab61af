// Package sqs implements queue.Driver on Amazon SQS.
//
// Exclusivity of a reservation comes from the SQS visibility timeout, so an
// envelope that is neither acked nor released reappears once the timeout on
// the queue expires.
package sqs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/pixelvide/luggage-go/pkg/config"
	"github.com/pixelvide/luggage-go/pkg/queue"
)

const (
	// maxDelaySeconds is the largest DelaySeconds SQS accepts.
	maxDelaySeconds = 900
	// quarantineSeconds is the 12 hour SQS visibility ceiling, used to hide
	// unparsable messages.
	quarantineSeconds = 12 * 60 * 60
)

// API is the subset of the SQS client used by the driver.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type SQSDriver struct {
	client     API
	prefix     string
	deadSuffix string
	now        func() time.Time
	logger     zerolog.Logger

	mu       sync.Mutex
	receipts map[string]string // envelope id -> receipt handle
}

// Option configures an SQSDriver
type Option func(*SQSDriver)

// WithClock replaces time.Now for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(s *SQSDriver) {
		s.now = now
	}
}

// WithLogger sets the logger used to report quarantined messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SQSDriver) {
		s.logger = logger
	}
}

// NewSQSDriver creates a new SQS driver
func NewSQSDriver(client API, cfg config.SQSConfig, opts ...Option) *SQSDriver {
	suffix := cfg.DeadSuffix
	if suffix == "" {
		suffix = "-dead"
	}
	s := &SQSDriver{
		client:     client,
		prefix:     strings.TrimSuffix(cfg.Prefix, "/"),
		deadSuffix: suffix,
		now:        time.Now,
		logger:     zerolog.Nop(),
		receipts:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueueURL maps a queue name to its SQS URL.
func (s *SQSDriver) QueueURL(queueName string) (string, error) {
	name, err := queue.SanitizeQueueName(queueName)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return name, nil
	}
	return s.prefix + "/" + name, nil
}

// Enqueue sends the envelope record, delayed until its availableAt.
func (s *SQSDriver) Enqueue(ctx context.Context, queueName string, env *queue.Envelope) error {
	url, err := s.QueueURL(queueName)
	if err != nil {
		return err
	}
	return s.send(ctx, url, env)
}

func (s *SQSDriver) send(ctx context.Context, url string, env *queue.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: s.delaySeconds(env.AvailableAt),
	})
	return err
}

func (s *SQSDriver) delaySeconds(availableAt time.Time) int32 {
	delay := int64(availableAt.Sub(s.now()).Seconds())
	if delay < 0 {
		return 0
	}
	if delay > maxDelaySeconds {
		return maxDelaySeconds
	}
	return int32(delay)
}

// Reserve receives at most one message without waiting.
func (s *SQSDriver) Reserve(ctx context.Context, queueName string) (*queue.Envelope, error) {
	url, err := s.QueueURL(queueName)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     0,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	msg := resp.Messages[0]
	receipt := aws.ToString(msg.ReceiptHandle)

	env, err := queue.Decode([]byte(aws.ToString(msg.Body)))
	if err != nil {
		s.logger.Warn().Err(err).Str("queue", queueName).Str("message_id", aws.ToString(msg.MessageId)).
			Msg("Quarantined corrupt envelope")
		return nil, s.hide(ctx, url, receipt, quarantineSeconds)
	}

	if wait := env.AvailableAt.Sub(s.now()); wait > 0 {
		// Not yet eligible; hide it for the remaining delay.
		return nil, s.hide(ctx, url, receipt, int32(wait.Round(time.Second)/time.Second))
	}

	s.mu.Lock()
	s.receipts[env.ID] = receipt
	s.mu.Unlock()
	return env, nil
}

func (s *SQSDriver) hide(ctx context.Context, url, receipt string, seconds int32) error {
	if seconds < 1 {
		seconds = 1
	}
	if seconds > quarantineSeconds {
		seconds = quarantineSeconds
	}
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: seconds,
	})
	return err
}

// Ack deletes the reserved message.
func (s *SQSDriver) Ack(ctx context.Context, queueName string, env *queue.Envelope) error {
	url, err := s.QueueURL(queueName)
	if err != nil {
		return err
	}
	return s.delete(ctx, url, env.ID)
}

// Release sends the updated envelope and deletes the reserved message.
func (s *SQSDriver) Release(ctx context.Context, queueName string, env *queue.Envelope) error {
	url, err := s.QueueURL(queueName)
	if err != nil {
		return err
	}
	if err := s.send(ctx, url, env); err != nil {
		return err
	}
	return s.delete(ctx, url, env.ID)
}

// Fail sends the dead record to the dead-letter queue and deletes the
// reserved message.
func (s *SQSDriver) Fail(ctx context.Context, queueName string, env *queue.Envelope, cause error) error {
	url, err := s.QueueURL(queueName)
	if err != nil {
		return err
	}
	deadURL, err := s.QueueURL(queueName + s.deadSuffix)
	if err != nil {
		return err
	}

	record, err := queue.NewDeadLetter(env, cause, s.now()).Encode()
	if err != nil {
		return err
	}
	if _, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(deadURL),
		MessageBody: aws.String(string(record)),
	}); err != nil {
		return err
	}
	return s.delete(ctx, url, env.ID)
}

func (s *SQSDriver) delete(ctx context.Context, url, id string) error {
	s.mu.Lock()
	receipt, ok := s.receipts[id]
	delete(s.receipts, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}
