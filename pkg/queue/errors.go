package queue

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrUnknownJobType is returned by the registry for unregistered job types.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrCannotConstruct is returned when no construction strategy applies.
	ErrCannotConstruct = errors.New("cannot construct job")
	// ErrInvalidQueueName is a configuration error surfaced to the caller.
	ErrInvalidQueueName = errors.New("invalid queue name")
	// ErrCorruptRecord marks a persisted record that cannot be parsed.
	ErrCorruptRecord = errors.New("corrupt envelope record")
)

// ErrorInfo is the failure metadata attached to dead-lettered envelopes.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// Coder is implemented by errors that carry a numeric classification.
type Coder interface {
	Code() int
}

// NewErrorInfo captures the message, classification code and origin type of err.
// The origin type is the innermost error of the wrap chain.
func NewErrorInfo(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	info := ErrorInfo{Message: err.Error()}

	var coder Coder
	if errors.As(err, &coder) {
		info.Code = coder.Code()
	}

	origin := err
	for {
		var next error
		switch u := origin.(type) {
		case interface{ Unwrap() []error }:
			// The cause is the last wrapped error.
			if errs := u.Unwrap(); len(errs) > 0 {
				next = errs[len(errs)-1]
			}
		default:
			next = errors.Unwrap(origin)
		}
		if next == nil {
			break
		}
		origin = next
	}
	info.Type = fmt.Sprintf("%T", origin)
	return info
}

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

var unsafeQueueChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeQueueName maps a queue name onto a restricted character set so it
// can be used as a directory name or key segment.
func SanitizeQueueName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidQueueName)
	}
	clean := unsafeQueueChars.ReplaceAllString(name, "_")
	if clean == "." || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidQueueName, name)
	}
	return clean, nil
}
