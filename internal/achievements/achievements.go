// Package achievements evaluates milestone badges after a habit completion.
// Evaluation is pure; nothing here remembers which badges were already shown.
package achievements

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/optimistic"
)

// Type enumerates achievement kinds.
type Type string

const (
	TypeFirstComplete Type = "first_complete"
	TypeStreak3       Type = "streak_3"
	TypeStreak7       Type = "streak_7"
	TypeStreak30      Type = "streak_30"
	TypeWeeklyGoal    Type = "weekly_goal"
	TypeMonthlyGoal   Type = "monthly_goal"
	TypePerfectWeek   Type = "perfect_week"
	TypeComeback      Type = "comeback"
)

const comebackGap = 7 * 24 * time.Hour

// Achievement is one emitted badge.
type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        Type   `json:"type"`
}

// Definition is the display copy for a type.
type Definition struct {
	Title       string
	Description string
}

// Definitions maps every type to its display copy.
var Definitions = map[Type]Definition{
	TypeFirstComplete: {Title: "First Step", Description: "Completed your first habit!"},
	TypeStreak3:       {Title: "3-Day Streak", Description: "Keep the momentum going!"},
	TypeStreak7:       {Title: "Week Warrior", Description: "7 days in a row - impressive!"},
	TypeStreak30:      {Title: "Month Master", Description: "30 days straight - legendary!"},
	TypeWeeklyGoal:    {Title: "Weekly Champion", Description: "Hit your weekly target!"},
	TypeMonthlyGoal:   {Title: "Monthly Hero", Description: "Crushed your monthly goal!"},
	TypePerfectWeek:   {Title: "Perfect Week", Description: "All habits completed this week!"},
	TypeComeback:      {Title: "Comeback Kid", Description: "Back on track after a break!"},
}

var streakMilestones = map[int]Type{
	3:  TypeStreak3,
	7:  TypeStreak7,
	30: TypeStreak30,
}

// Event is the completion being evaluated.
type Event struct {
	HabitID    string
	EventType  habits.EventType
	OccurredAt time.Time
}

// Result separates fresh badges from ones already held. Existing stays empty because the
// evaluator keeps no history.
type Result struct {
	New      []Achievement `json:"new"`
	Existing []Achievement `json:"existing"`
}

// Evaluate inspects a habit-list state right after event was painted into it.
func Evaluate(state optimistic.State, event *Event, now time.Time) Result {
	result := Result{New: []Achievement{}, Existing: []Achievement{}}
	if state.Kind != optimistic.KindHabitList || event == nil || event.EventType != habits.EventTypeMarkDone {
		return result
	}
	target, found := findHabit(state.Habits, event.HabitID)
	if !found {
		return result
	}
	stamp := now.UnixNano()
	emit := func(kind Type) {
		definition := Definitions[kind]
		result.New = append(result.New, Achievement{
			ID:          fmt.Sprintf("%s_%s_%d", kind, target.ID, stamp),
			Title:       definition.Title,
			Description: definition.Description,
			Type:        kind,
		})
	}

	previous := previousCompletion(target)
	if target.TotalCompletions == 0 || (target.OptimisticMarked && previous == nil) {
		emit(TypeFirstComplete)
	}
	if milestone, ok := streakMilestones[effectiveStreak(target)]; ok {
		emit(milestone)
	}
	if len(state.Habits) > 1 && allCompletedToday(state.Habits, now) {
		emit(TypePerfectWeek)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	if previous != nil && occurredAt.Sub(*previous) >= comebackGap {
		emit(TypeComeback)
	}
	return result
}

func findHabit(list []optimistic.CachedHabit, habitID string) (optimistic.CachedHabit, bool) {
	for _, habit := range list {
		if habit.ID == habitID {
			return habit, true
		}
	}
	return optimistic.CachedHabit{}, false
}

// effectiveStreak counts the completion being evaluated on top of the recorded run.
func effectiveStreak(habit optimistic.CachedHabit) int {
	if habit.CurrentStreak > 0 || habit.OptimisticMarked {
		return habit.CurrentStreak + 1
	}
	return 0
}

func previousCompletion(habit optimistic.CachedHabit) *time.Time {
	if habit.OptimisticMarked {
		return habit.PreviousCompletedAt
	}
	return habit.LastCompletedAt
}

func allCompletedToday(list []optimistic.CachedHabit, now time.Time) bool {
	today := now.UTC().Format(time.DateOnly)
	for _, habit := range list {
		if habit.OptimisticMarked {
			continue
		}
		if habit.LastCompletedAt == nil || habit.LastCompletedAt.UTC().Format(time.DateOnly) != today {
			return false
		}
	}
	return true
}
