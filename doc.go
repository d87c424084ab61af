// Package luggage is a small durable job queue.
//
// Producers push envelopes (a job type, a JSON payload and retry metadata)
// onto a named queue. Workers reserve eligible envelopes one at a time, build
// the job from a registry and run it. Failed jobs are released with a backoff
// delay until their attempts are used up, then moved to a dead-letter store.
//
// Key subpackages:
//
//	github.com/pixelvide/luggage-go/pkg/queue    - Envelope, driver and job interfaces, registry, publisher
//	github.com/pixelvide/luggage-go/pkg/retry    - Backoff strategies
//	github.com/pixelvide/luggage-go/pkg/worker   - Reserve, execute, ack/release/fail loop
//	github.com/pixelvide/luggage-go/pkg/driver   - Queue drivers (memory, file, redis, database, sqs)
//	github.com/pixelvide/luggage-go/pkg/config   - Configuration structs
//
// Example Usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/pixelvide/luggage-go/pkg/driver/file"
//		"github.com/pixelvide/luggage-go/pkg/queue"
//		"github.com/pixelvide/luggage-go/pkg/worker"
//	)
//
//	func SendEmail(ctx context.Context, payload queue.Payload) error {
//		// Process job...
//		return nil
//	}
//
//	func main() {
//		queue.Register("send-email", SendEmail)
//		driver := file.NewFileDriver("storage/luggage")
//
//		publisher := queue.NewPublisher(driver)
//		publisher.Dispatch(context.Background(), "send-email", queue.Payload{"to": "a@example.com"})
//
//		w := worker.NewWorker(driver, queue.DefaultRegistry, nil)
//		w.Run(context.Background(), worker.DefaultOptions())
//	}
package luggage
