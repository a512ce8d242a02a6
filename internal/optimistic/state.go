// Package optimistic holds the pure transforms that paint speculative habit state into a
// cached value before the server confirms a mutation.
package optimistic

import (
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

// Kind tags the shape of a cached value.
type Kind int

const (
	KindOther Kind = iota
	KindHabitList
	KindStreakSummary
)

// CachedHabit is a habit as held by a client cache.
type CachedHabit struct {
	habits.Habit
	OptimisticMarked    bool       `json:"__optimistic_marked,omitempty"`
	PreviousCompletedAt *time.Time `json:"-"`
}

// CachedStreak is a streak summary as held by a client cache.
type CachedStreak struct {
	habits.StreakSummary
	OptimisticMarked bool `json:"__optimistic_marked,omitempty"`
}

// State is one cached value. Only the field matching Kind is meaningful.
type State struct {
	Kind   Kind
	Habits []CachedHabit
	Streak *CachedStreak
	Other  any
}

// HabitList builds a list state from authoritative habits.
func HabitList(list []habits.Habit) State {
	cached := make([]CachedHabit, len(list))
	for index, habit := range list {
		cached[index] = CachedHabit{Habit: habit}
	}
	return State{Kind: KindHabitList, Habits: cached}
}

// StreakSummary builds a streak state from an authoritative summary.
func StreakSummary(summary habits.StreakSummary) State {
	return State{Kind: KindStreakSummary, Streak: &CachedStreak{StreakSummary: summary}}
}

// UndoInput identifies what an undo retracts. HabitID is empty for event-based undo.
type UndoInput struct {
	HabitID string
	EventID string
}
