// Package offlinequeue is a durable, ordered, at-least-once queue of pending habit mutations.
// It drains head-of-line against a habits.Repository and persists one JSON snapshot through a
// pluggable Driver.
package offlinequeue

import (
	"encoding/json"
	"time"
)

// Kind enumerates queued mutation types.
type Kind string

const (
	KindCreateHabit Kind = "createHabit"
	KindUpdateHabit Kind = "updateHabit"
	KindDeleteHabit Kind = "deleteHabit"
	KindMarkDone    Kind = "markDone"
	KindUndoEvent   Kind = "undoEvent"
)

// Valid reports whether the kind has a delivery route.
func (k Kind) Valid() bool {
	switch k {
	case KindCreateHabit, KindUpdateHabit, KindDeleteHabit, KindMarkDone, KindUndoEvent:
		return true
	default:
		return false
	}
}

// MutOp is a pending write intent. Field names match the persisted snapshot format.
type MutOp struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotencyKey"`
	EnqueuedAt     int64           `json:"enqueuedAt"`
	Attempt        int             `json:"attempt"`
}

// EnqueuedTime converts EnqueuedAt from unix milliseconds.
func (op MutOp) EnqueuedTime() time.Time {
	return time.UnixMilli(op.EnqueuedAt).UTC()
}

// NewOp is what callers hand to Enqueue; the queue assigns id, timestamp, and attempt.
type NewOp struct {
	Kind           Kind
	Input          any
	IdempotencyKey string
}

// Snapshot is the sole unit of durability.
type Snapshot struct {
	Ops []MutOp `json:"ops"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Ops: []MutOp{}}
}

func (s Snapshot) indexOf(opID string) int {
	for index, op := range s.Ops {
		if op.ID == opID {
			return index
		}
	}
	return -1
}

func (s Snapshot) hasKey(idempotencyKey string) bool {
	for _, op := range s.Ops {
		if op.IdempotencyKey == idempotencyKey {
			return true
		}
	}
	return false
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	Skipped          bool
	Cancelled        bool
	Delivered        int
	Retries          int
	DroppedPermanent int
	DroppedExhausted int
}

// Outcome labels queue activity for observers.
type Outcome string

const (
	OutcomeEnqueued         Outcome = "enqueued"
	OutcomeDeduplicated     Outcome = "deduplicated"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeRetried          Outcome = "retried"
	OutcomeDroppedPermanent Outcome = "dropped_permanent"
	OutcomeDroppedExhausted Outcome = "dropped_exhausted"
)

// Observer receives queue activity, typically for metrics.
type Observer interface {
	ObserveQueue(kind Kind, outcome Outcome)
}

type noopObserver struct{}

func (noopObserver) ObserveQueue(Kind, Outcome) {}
