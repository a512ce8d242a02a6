package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/backoff"
	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

// DefaultMaxAttempts bounds delivery attempts for retryable failures.
const DefaultMaxAttempts = 4

var (
	errMissingDriver     = errors.New("offlinequeue: driver is required")
	errMissingRepository = errors.New("offlinequeue: repository is required")
	// ErrInvalidOp indicates an op without a routable kind or an idempotency key.
	ErrInvalidOp = errors.New("offlinequeue: invalid op")
)

// Config wires a Queue.
type Config struct {
	Driver      Driver
	Repository  habits.Repository
	MaxAttempts int
	Backoff     backoff.Policy
	Clock       func() time.Time
	IDProvider  habits.IDProvider
	Sleep       func(ctx context.Context, delay time.Duration) error
	Observer    Observer
	Logger      *zap.Logger
}

// Queue persists ops before returning from Enqueue and drains them head-of-line.
type Queue struct {
	driver      Driver
	repository  habits.Repository
	maxAttempts int
	policy      backoff.Policy
	clock       func() time.Time
	idProvider  habits.IDProvider
	sleep       func(ctx context.Context, delay time.Duration) error
	observer    Observer
	logger      *zap.Logger

	mu       sync.Mutex
	draining atomic.Bool
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Queue, error) {
	if cfg.Driver == nil {
		return nil, errMissingDriver
	}
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	policy := cfg.Backoff
	if policy.Base <= 0 || policy.Max <= 0 {
		policy = backoff.DefaultPolicy()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = habits.NewUUIDProvider()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		driver:      cfg.Driver,
		repository:  cfg.Repository,
		maxAttempts: maxAttempts,
		policy:      policy,
		clock:       clock,
		idProvider:  idProvider,
		sleep:       sleep,
		observer:    observer,
		logger:      logger,
	}, nil
}

// Enqueue appends op unless an op with the same idempotency key is already pending.
// The returned bool is false for a deduplicated op. The op is durable once Enqueue returns nil.
func (q *Queue) Enqueue(ctx context.Context, newOp NewOp) (MutOp, bool, error) {
	if !newOp.Kind.Valid() {
		return MutOp{}, false, invalidOp(fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, newOp.Kind))
	}
	key := strings.TrimSpace(newOp.IdempotencyKey)
	if key == "" {
		return MutOp{}, false, invalidOp(fmt.Errorf("%w: missing idempotency key", ErrInvalidOp))
	}
	input, err := json.Marshal(newOp.Input)
	if err != nil {
		return MutOp{}, false, invalidOp(fmt.Errorf("%w: encode input: %v", ErrInvalidOp, err))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := q.readLocked(ctx)
	if snapshot.hasKey(key) {
		q.observer.ObserveQueue(newOp.Kind, OutcomeDeduplicated)
		return MutOp{}, false, nil
	}
	opID, err := q.idProvider.NewID()
	if err != nil {
		opID = uuid.NewString()
	}
	op := MutOp{
		ID:             opID,
		Kind:           newOp.Kind,
		Input:          input,
		IdempotencyKey: key,
		EnqueuedAt:     q.clock().UnixMilli(),
		Attempt:        0,
	}
	snapshot.Ops = append(snapshot.Ops, op)
	if err := q.driver.Write(ctx, snapshot); err != nil {
		q.logger.Error("offline queue write failed",
			zap.String("operation", "offlinequeue.enqueue"),
			zap.String("kind", string(op.Kind)),
			zap.Error(err))
		return MutOp{}, false, err
	}
	q.observer.ObserveQueue(op.Kind, OutcomeEnqueued)
	return op, true, nil
}

// Drain delivers pending ops in order until the queue is empty or ctx is cancelled.
// A concurrent call returns immediately with Skipped set. Cancellation is observed between
// ops; an in-flight repository call is allowed to finish.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	persistCtx := context.WithoutCancel(ctx)
	report := DrainReport{}
	for {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report, nil
		}
		snapshot := q.Read(persistCtx)
		if len(snapshot.Ops) == 0 {
			return report, nil
		}
		op := snapshot.Ops[0]

		deliveryErr := deliver(persistCtx, q.repository, op)
		if deliveryErr == nil {
			if err := q.remove(persistCtx, op.ID); err != nil {
				return report, err
			}
			report.Delivered++
			q.observer.ObserveQueue(op.Kind, OutcomeDelivered)
			continue
		}

		code := dataerr.CodeOf(deliveryErr)
		if dataerr.IsPermanent(code) {
			q.logger.Warn("offline queue dropped op",
				zap.String("operation", "offlinequeue.drain"),
				zap.String("reason", "permanent_failure"),
				zap.String("op_id", op.ID),
				zap.String("kind", string(op.Kind)),
				zap.String("code", string(code)),
				zap.Error(deliveryErr))
			if err := q.remove(persistCtx, op.ID); err != nil {
				return report, err
			}
			report.DroppedPermanent++
			q.observer.ObserveQueue(op.Kind, OutcomeDroppedPermanent)
			continue
		}

		attempt := op.Attempt + 1
		if attempt >= q.maxAttempts {
			q.logger.Warn("offline queue dropped op",
				zap.String("operation", "offlinequeue.drain"),
				zap.String("reason", "attempts_exhausted"),
				zap.String("op_id", op.ID),
				zap.String("kind", string(op.Kind)),
				zap.Int("attempts", attempt),
				zap.Error(deliveryErr))
			if err := q.remove(persistCtx, op.ID); err != nil {
				return report, err
			}
			report.DroppedExhausted++
			q.observer.ObserveQueue(op.Kind, OutcomeDroppedExhausted)
			continue
		}

		if err := q.setAttempt(persistCtx, op.ID, attempt); err != nil {
			return report, err
		}
		report.Retries++
		q.observer.ObserveQueue(op.Kind, OutcomeRetried)
		delay := q.policy.NextDelay(attempt)
		q.logger.Debug("offline queue retry scheduled",
			zap.String("op_id", op.ID),
			zap.String("code", string(code)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := q.sleep(ctx, delay); err != nil {
			report.Cancelled = true
			return report, nil
		}
	}
}

// Read returns the persisted snapshot. Storage failures are logged and read as empty.
func (q *Queue) Read(ctx context.Context) Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked(ctx)
}

// Len reports the number of pending ops.
func (q *Queue) Len(ctx context.Context) int {
	return len(q.Read(ctx).Ops)
}

// Clear discards every pending op.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.driver.Clear(ctx)
}

func (q *Queue) readLocked(ctx context.Context) Snapshot {
	snapshot, err := q.driver.Read(ctx)
	if err != nil {
		q.logger.Warn("offline queue read failed",
			zap.String("operation", "offlinequeue.read"),
			zap.Error(err))
		return emptySnapshot()
	}
	return snapshot
}

// remove pops opID from the current snapshot; ops enqueued during delivery are preserved.
func (q *Queue) remove(ctx context.Context, opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := q.readLocked(ctx)
	index := snapshot.indexOf(opID)
	if index < 0 {
		return nil
	}
	snapshot.Ops = append(snapshot.Ops[:index], snapshot.Ops[index+1:]...)
	return q.writeLocked(ctx, snapshot)
}

func (q *Queue) setAttempt(ctx context.Context, opID string, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := q.readLocked(ctx)
	index := snapshot.indexOf(opID)
	if index < 0 {
		return nil
	}
	snapshot.Ops[index].Attempt = attempt
	return q.writeLocked(ctx, snapshot)
}

func (q *Queue) writeLocked(ctx context.Context, snapshot Snapshot) error {
	if err := q.driver.Write(ctx, snapshot); err != nil {
		q.logger.Error("offline queue write failed",
			zap.String("operation", "offlinequeue.write"),
			zap.Error(err))
		return err
	}
	return nil
}

func invalidOp(err error) error {
	return dataerr.Wrap(dataerr.CodeValidationFailed, err)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
