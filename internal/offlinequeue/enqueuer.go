package offlinequeue

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrQueueDisabled is returned by a disabled enqueuer.
var ErrQueueDisabled = errors.New("offlinequeue: queue disabled")

// Enqueuer is the capability the mutation pipeline needs from a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, op NewOp) error
}

// EnqueueFunc adapts a function to Enqueuer.
type EnqueueFunc func(ctx context.Context, op NewOp) error

func (f EnqueueFunc) Enqueue(ctx context.Context, op NewOp) error {
	return f(ctx, op)
}

// QueueEnqueuer adapts a Queue, treating a deduplicated op as success.
func QueueEnqueuer(queue *Queue) Enqueuer {
	return EnqueueFunc(func(ctx context.Context, op NewOp) error {
		_, _, err := queue.Enqueue(ctx, op)
		return err
	})
}

// DisabledEnqueuer refuses every op, so a failed remote call is not retried later.
func DisabledEnqueuer(logger *zap.Logger) Enqueuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return EnqueueFunc(func(_ context.Context, op NewOp) error {
		logger.Debug("offline queue disabled",
			zap.String("kind", string(op.Kind)),
			zap.String("idempotency_key", op.IdempotencyKey))
		return ErrQueueDisabled
	})
}
