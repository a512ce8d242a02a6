package optimistic

import (
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

// ApplyMarkDone paints a completion. Reapplying to its own output changes nothing further
// for a habit list.
func ApplyMarkDone(state State, input habits.MarkDoneInput, now time.Time) State {
	switch state.Kind {
	case KindHabitList:
		completedAt := now.UTC()
		if parsed, err := input.OccurredAtTZ.Time(); err == nil {
			completedAt = parsed
		}
		next := make([]CachedHabit, len(state.Habits))
		for index, habit := range state.Habits {
			if habit.ID != input.HabitID {
				next[index] = habit
				continue
			}
			if !habit.OptimisticMarked {
				habit.PreviousCompletedAt = habit.LastCompletedAt
			}
			marked := completedAt
			habit.LastCompletedAt = &marked
			habit.OptimisticMarked = true
			next[index] = habit
		}
		return State{Kind: KindHabitList, Habits: next}
	case KindStreakSummary:
		if state.Streak == nil || !matchesHabit(state.Streak.HabitID, input.HabitID) {
			return state
		}
		streak := *state.Streak
		streak.Current++
		streak.OptimisticMarked = true
		if streak.Current > streak.Longest {
			streak.Longest = streak.Current
		}
		return State{Kind: KindStreakSummary, Streak: &streak}
	default:
		return state
	}
}

// ApplyUndo strips the optimistic marker. Without a habit id every marked habit is reverted.
func ApplyUndo(state State, input UndoInput) State {
	switch state.Kind {
	case KindHabitList:
		next := make([]CachedHabit, len(state.Habits))
		for index, habit := range state.Habits {
			if !habit.OptimisticMarked || (input.HabitID != "" && habit.ID != input.HabitID) {
				next[index] = habit
				continue
			}
			habit.LastCompletedAt = habit.PreviousCompletedAt
			habit.PreviousCompletedAt = nil
			habit.OptimisticMarked = false
			next[index] = habit
		}
		return State{Kind: KindHabitList, Habits: next}
	case KindStreakSummary:
		if state.Streak == nil || !state.Streak.OptimisticMarked || !matchesHabit(state.Streak.HabitID, input.HabitID) {
			return state
		}
		streak := *state.Streak
		streak.Current--
		if streak.Current < 0 {
			streak.Current = 0
		}
		streak.OptimisticMarked = false
		return State{Kind: KindStreakSummary, Streak: &streak}
	default:
		return state
	}
}

func matchesHabit(cached, target string) bool {
	return cached == "" || target == "" || cached == target
}
