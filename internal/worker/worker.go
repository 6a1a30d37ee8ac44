// Package worker implements the stages of the campaign delivery pipeline.
// Each queue stage exposes a Handle method that satisfies queue.Handler; the
// scheduler and the receipt flusher run as ticker loops.
package worker

import (
	"context"
)

// Publisher publishes a JSON message to a named queue
type Publisher interface {
	Publish(ctx context.Context, queueName string, v interface{}) error
}
