package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is used when neither the producer nor the job sets a ceiling.
const DefaultMaxAttempts = 3

// Payload is the structured job input carried by an envelope.
type Payload map[string]any

// Clone returns a shallow copy so a job never aliases the envelope's map.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	return maps.Clone(p)
}

// Envelope is the persisted unit of work plus its retry and scheduling metadata.
// A reserved envelope is owned by the caller that reserved it until it is
// acked, released or failed.
type Envelope struct {
	ID          string
	JobType     string
	Payload     Payload
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
}

// EnvelopeOption customises a new envelope
type EnvelopeOption func(*Envelope)

// WithMaxAttempts sets the retry ceiling. Values below 1 are ignored.
func WithMaxAttempts(n int) EnvelopeOption {
	return func(e *Envelope) {
		if n > 0 {
			e.MaxAttempts = n
		}
	}
}

// WithAvailableAt makes the envelope eligible only from t onwards.
func WithAvailableAt(t time.Time) EnvelopeOption {
	return func(e *Envelope) {
		e.AvailableAt = t
	}
}

// WithDelay pushes eligibility d into the future.
func WithDelay(d time.Duration) EnvelopeOption {
	return func(e *Envelope) {
		if d > 0 {
			e.AvailableAt = e.AvailableAt.Add(d)
		}
	}
}

// NewEnvelope creates a ready-to-enqueue envelope with a fresh ID.
func NewEnvelope(jobType string, payload Payload, opts ...EnvelopeOption) *Envelope {
	env := &Envelope{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Payload:     payload.Clone(),
		MaxAttempts: DefaultMaxAttempts,
		AvailableAt: time.Now(),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// AvailableAtUnix is the eligibility time truncated to the second, as persisted.
func (e *Envelope) AvailableAtUnix() int64 {
	return e.AvailableAt.Unix()
}

// Record is the flat persisted form of an envelope. Dead-letter records also
// carry Error and FailedAt.
type Record struct {
	ID          string     `json:"id"`
	JobType     string     `json:"jobType"`
	Payload     Payload    `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	AvailableAt int64      `json:"availableAt"`
	Error       *ErrorInfo `json:"error,omitempty"`
	FailedAt    int64      `json:"failedAt,omitempty"`
}

// Record converts the envelope to its persisted form.
func (e *Envelope) Record() Record {
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	return Record{
		ID:          e.ID,
		JobType:     e.JobType,
		Payload:     payload,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		AvailableAt: e.AvailableAtUnix(),
	}
}

// Encode serializes the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e.Record())
}

// Envelope reconstructs the envelope described by the record.
func (r Record) Envelope() *Envelope {
	payload := r.Payload
	if payload == nil {
		payload = Payload{}
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attempts := r.Attempts
	if attempts < 0 {
		attempts = 0
	}
	return &Envelope{
		ID:          r.ID,
		JobType:     r.JobType,
		Payload:     payload,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		AvailableAt: time.Unix(r.AvailableAt, 0),
	}
}

// DecodeRecord parses a persisted record. Anything that is not a JSON object
// with an id and a job type is reported as ErrCorruptRecord.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := unmarshalNumbers(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.ID == "" || rec.JobType == "" {
		return Record{}, fmt.Errorf("%w: missing id or jobType", ErrCorruptRecord)
	}
	normalizePayload(rec.Payload)
	return rec, nil
}

// DecodePayload parses a JSON object into a payload. Integral numbers are
// kept exact as int64; other numbers become float64.
func DecodePayload(data []byte) (Payload, error) {
	var payload Payload
	if err := unmarshalNumbers(data, &payload); err != nil {
		return nil, err
	}
	normalizePayload(payload)
	return payload, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func normalizePayload(p Payload) {
	for k, v := range p {
		p[k] = normalizeNumber(v)
	}
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumber(x)
		}
	case []any:
		for i, x := range t {
			t[i] = normalizeNumber(x)
		}
	}
	return v
}

// Decode parses a persisted record into an envelope.
func Decode(data []byte) (*Envelope, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.Envelope(), nil
}

// DeadLetter is an envelope that exhausted its attempts, kept for inspection.
type DeadLetter struct {
	Envelope *Envelope
	Error    ErrorInfo
	FailedAt time.Time
}

// NewDeadLetter captures the failure metadata for env.
func NewDeadLetter(env *Envelope, cause error, failedAt time.Time) *DeadLetter {
	return &DeadLetter{
		Envelope: env,
		Error:    NewErrorInfo(cause),
		FailedAt: failedAt,
	}
}

// Record converts the dead letter to its persisted form.
func (d *DeadLetter) Record() Record {
	rec := d.Envelope.Record()
	info := d.Error
	rec.Error = &info
	rec.FailedAt = d.FailedAt.Unix()
	return rec
}

// Encode serializes the dead letter to JSON.
func (d *DeadLetter) Encode() ([]byte, error) {
	return json.Marshal(d.Record())
}

// DecodeDeadLetter parses a persisted dead-letter record.
func DecodeDeadLetter(data []byte) (*DeadLetter, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	dl := &DeadLetter{
		Envelope: rec.Envelope(),
		FailedAt: time.Unix(rec.FailedAt, 0),
	}
	if rec.Error != nil {
		dl.Error = *rec.Error
	}
	return dl, nil
}
