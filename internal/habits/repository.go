package habits

import "context"

// Repository performs remote habit mutations. Implementations return *dataerr.Error failures.
type Repository interface {
	CreateHabit(ctx context.Context, input NewHabitInput) (Habit, error)
	UpdateHabit(ctx context.Context, id string, patch UpdateHabitInput) (Habit, error)
	DeleteHabit(ctx context.Context, id string) (Habit, error)
	MarkDone(ctx context.Context, input MarkDoneInput) (HabitEvent, error)
	UndoEvent(ctx context.Context, eventID string) (HabitEvent, error)
}

// Reader serves the authoritative state that caches refetch after invalidation.
type Reader interface {
	ListHabits(ctx context.Context) ([]Habit, error)
	GetStreak(ctx context.Context, habitID string) (StreakSummary, error)
}

// ReadWriter is the full remote surface a client talks to.
type ReadWriter interface {
	Repository
	Reader
}
