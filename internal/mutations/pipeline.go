package mutations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/achievements"
	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/offlinequeue"
	"github.com/MarcoPoloResearchLab/habituals/internal/optimistic"
)

var (
	errMissingCache      = errors.New("mutations: cache is required")
	errMissingRepository = errors.New("mutations: repository is required")
	errMissingEnqueuer   = errors.New("mutations: enqueuer is required")
)

// PipelineConfig wires a Pipeline. Enqueuer is mandatory; use offlinequeue.DisabledEnqueuer
// to run without durability.
type PipelineConfig struct {
	Cache      Cache
	Repository habits.Repository
	Enqueuer   offlinequeue.Enqueuer
	Notifier   Notifier
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Pipeline applies habit mutations for one signed-in user.
type Pipeline struct {
	cache      Cache
	repository habits.Repository
	enqueuer   offlinequeue.Enqueuer
	notifier   Notifier
	clock      func() time.Time
	logger     *zap.Logger
}

// MarkDoneResult is the confirmed event plus any achievements it earned.
type MarkDoneResult struct {
	Event        habits.HabitEvent
	Achievements []achievements.Achievement
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Enqueuer == nil {
		return nil, errMissingEnqueuer
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = DiscardNotifier
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cache:      cfg.Cache,
		repository: cfg.Repository,
		enqueuer:   cfg.Enqueuer,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
	}, nil
}

type snapshot struct {
	key   Key
	state optimistic.State
}

func (p *Pipeline) capture(keys ...Key) []snapshot {
	captured := make([]snapshot, 0, len(keys))
	for _, key := range keys {
		if state, ok := p.cache.Get(key); ok {
			captured = append(captured, snapshot{key: key, state: state})
		}
	}
	return captured
}

// MarkDone paints the completion, queues it durably, and delivers it directly. A failed
// enqueue restores the captured cache values and is returned before any delivery.
//
// Achievements are evaluated against the painted list rather than the refetched one: the
// painted list still describes the habit as it was before the server folded the completion in,
// and its optimistic marker is what counts the completion into the effective streak.
func (p *Pipeline) MarkDone(ctx context.Context, input habits.MarkDoneInput) (MarkDoneResult, error) {
	now := p.clock()
	previous := p.capture(HabitsKey, StreakKey(input.HabitID))
	var painted optimistic.State
	for _, entry := range previous {
		next := optimistic.ApplyMarkDone(entry.state, input, now)
		p.cache.Set(entry.key, next)
		if entry.key == HabitsKey {
			painted = next
		}
	}

	if err := p.enqueue(ctx, offlinequeue.NewOp{Kind: offlinequeue.KindMarkDone, Input: input, IdempotencyKey: input.IdempotencyKey}); err != nil {
		p.restore(previous)
		return MarkDoneResult{}, err
	}

	event, err := p.repository.MarkDone(ctx, input)
	if err != nil {
		p.settleFailure(ctx, "mutations.mark_done", err, previous, optimistic.UndoInput{HabitID: input.HabitID})
		return MarkDoneResult{}, err
	}
	p.invalidate(ctx, HabitsKey, StreakKey(input.HabitID))

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	evaluation := achievements.Evaluate(painted, &achievements.Event{
		HabitID:    input.HabitID,
		EventType:  habits.EventTypeMarkDone,
		OccurredAt: occurredAt,
	}, now)
	for _, achievement := range evaluation.New {
		p.notifier.Notify(ctx, achievement)
	}
	return MarkDoneResult{Event: event, Achievements: evaluation.New}, nil
}

// UndoEvent retracts a completion. HabitID is optional; without it every marker is stripped.
func (p *Pipeline) UndoEvent(ctx context.Context, input optimistic.UndoInput) (habits.HabitEvent, error) {
	keys := []Key{HabitsKey}
	if input.HabitID != "" {
		keys = append(keys, StreakKey(input.HabitID))
	}
	previous := p.capture(keys...)
	for _, entry := range previous {
		p.cache.Set(entry.key, optimistic.ApplyUndo(entry.state, input))
	}

	if err := p.enqueue(ctx, offlinequeue.NewOp{Kind: offlinequeue.KindUndoEvent, Input: input.EventID, IdempotencyKey: UndoKey(input.EventID)}); err != nil {
		p.restore(previous)
		return habits.HabitEvent{}, err
	}

	event, err := p.repository.UndoEvent(ctx, input.EventID)
	if err != nil {
		code := dataerr.CodeOf(err)
		switch {
		case dataerr.IsConflict(code):
			p.invalidate(ctx, keys...)
		case dataerr.IsPermanent(code):
			p.restore(previous)
		}
		p.logOutcome("mutations.undo_event", err)
		return habits.HabitEvent{}, err
	}
	if input.HabitID == "" && event.HabitID != "" {
		keys = append(keys, StreakKey(event.HabitID))
	}
	p.invalidate(ctx, keys...)
	return event, nil
}

// CreateHabit queues and delivers a new habit. The habit gets a client id when it has none,
// so the queued copy replays onto the same row.
func (p *Pipeline) CreateHabit(ctx context.Context, input habits.NewHabitInput) (habits.Habit, error) {
	if input.ID == "" {
		input.ID = habits.NewClientHabitID()
	}
	if err := p.enqueue(ctx, offlinequeue.NewOp{Kind: offlinequeue.KindCreateHabit, Input: input, IdempotencyKey: "create:" + input.ID}); err != nil {
		return habits.Habit{}, err
	}
	habit, err := p.repository.CreateHabit(ctx, input)
	return p.settleHabit(ctx, "mutations.create_habit", habit, err)
}

// UpdateHabit queues and delivers a patch.
func (p *Pipeline) UpdateHabit(ctx context.Context, id string, patch habits.UpdateHabitInput) (habits.Habit, error) {
	request := habits.UpdateHabitRequest{ID: id, Patch: patch}
	if err := p.enqueue(ctx, offlinequeue.NewOp{Kind: offlinequeue.KindUpdateHabit, Input: request, IdempotencyKey: habits.NewIdempotencyKey()}); err != nil {
		return habits.Habit{}, err
	}
	habit, err := p.repository.UpdateHabit(ctx, id, patch)
	return p.settleHabit(ctx, "mutations.update_habit", habit, err)
}

// DeleteHabit queues and delivers a deletion.
func (p *Pipeline) DeleteHabit(ctx context.Context, id string) (habits.Habit, error) {
	if err := p.enqueue(ctx, offlinequeue.NewOp{Kind: offlinequeue.KindDeleteHabit, Input: id, IdempotencyKey: "delete:" + id}); err != nil {
		return habits.Habit{}, err
	}
	habit, err := p.repository.DeleteHabit(ctx, id)
	return p.settleHabit(ctx, "mutations.delete_habit", habit, err)
}

// UndoKey is the idempotency key for undoing eventID, so repeated undo taps collapse.
func UndoKey(eventID string) string {
	return "undo:" + eventID
}

func (p *Pipeline) settleHabit(ctx context.Context, operation string, habit habits.Habit, err error) (habits.Habit, error) {
	if err != nil {
		if dataerr.IsConflict(dataerr.CodeOf(err)) {
			p.invalidate(ctx, HabitsKey)
		}
		p.logOutcome(operation, err)
		return habits.Habit{}, err
	}
	p.invalidate(ctx, HabitsKey)
	return habit, nil
}

// settleFailure applies the failure half of the protocol: conflicts refetch without reverting,
// permanent failures restore the captured states and strip markers, anything else is left for
// the queue.
func (p *Pipeline) settleFailure(ctx context.Context, operation string, err error, previous []snapshot, undo optimistic.UndoInput) {
	code := dataerr.CodeOf(err)
	switch {
	case dataerr.IsConflict(code):
		keys := make([]Key, 0, len(previous))
		for _, entry := range previous {
			keys = append(keys, entry.key)
		}
		if len(keys) == 0 {
			keys = append(keys, HabitsKey)
		}
		p.invalidate(ctx, keys...)
	case dataerr.IsPermanent(code):
		for _, entry := range previous {
			p.cache.Set(entry.key, optimistic.ApplyUndo(entry.state, undo))
		}
	}
	p.logOutcome(operation, err)
}

// enqueue persists op. A disabled queue is not a failure; any other error means the op is
// not durable and the caller must not treat the mutation as pending.
func (p *Pipeline) enqueue(ctx context.Context, op offlinequeue.NewOp) error {
	err := p.enqueuer.Enqueue(ctx, op)
	if err == nil || errors.Is(err, offlinequeue.ErrQueueDisabled) {
		return nil
	}
	p.logger.Error("mutation not queued",
		zap.String("operation", "mutations.enqueue"),
		zap.String("kind", string(op.Kind)),
		zap.Error(err))
	return fmt.Errorf("mutations: queue %s: %w", op.Kind, err)
}

func (p *Pipeline) restore(previous []snapshot) {
	for _, entry := range previous {
		p.cache.Set(entry.key, entry.state)
	}
}

func (p *Pipeline) invalidate(ctx context.Context, keys ...Key) {
	for _, key := range keys {
		if err := p.cache.Invalidate(ctx, key); err != nil {
			p.logger.Warn("cache invalidation failed",
				zap.String("operation", "mutations.invalidate"),
				zap.String("key", string(key)),
				zap.Error(err))
		}
	}
}

func (p *Pipeline) logOutcome(operation string, err error) {
	code := dataerr.CodeOf(err)
	p.logger.Info("mutation failed",
		zap.String("operation", operation),
		zap.String("code", string(code)),
		zap.Bool("permanent", dataerr.IsPermanent(code)),
		zap.Error(err))
}
