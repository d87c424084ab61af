package queue

import (
	"context"
)

// FailedJobProvider defines the interface for logging failed jobs outside the
// driver's own dead-letter store.
type FailedJobProvider interface {
	// Log records a dead-lettered envelope. record is the encoded dead letter.
	Log(ctx context.Context, connection string, queueName string, record []byte, info ErrorInfo) error
}
