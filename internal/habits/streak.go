package habits

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

// streakState is the server-computed summary derived from live completion events.
type streakState struct {
	Current         int
	Longest         int
	Total           int
	LastCompletedAt *time.Time
}

// resolveStreak recomputes streak fields from every live completion. Days are UTC calendar days.
// The current run only counts while its last day is today or yesterday relative to now.
func resolveStreak(events []HabitEvent, now time.Time) streakState {
	state := streakState{}
	days := make(map[time.Time]struct{})
	for _, event := range events {
		if event.EventType != EventTypeMarkDone || event.UndoneAt != nil {
			continue
		}
		state.Total++
		occurred := event.OccurredAt.UTC()
		if state.LastCompletedAt == nil || occurred.After(*state.LastCompletedAt) {
			latest := occurred
			state.LastCompletedAt = &latest
		}
		days[utcDay(occurred)] = struct{}{}
	}
	if len(days) == 0 {
		return state
	}

	ordered := make([]time.Time, 0, len(days))
	for day := range days {
		ordered = append(ordered, day)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	run := 0
	for index, day := range ordered {
		if index > 0 && day.Sub(ordered[index-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > state.Longest {
			state.Longest = run
		}
	}

	lastDay := ordered[len(ordered)-1]
	today := utcDay(now)
	if today.Sub(lastDay) <= 24*time.Hour {
		state.Current = run
	}
	return state
}

func (s streakState) applyTo(habit *Habit) {
	habit.CurrentStreak = s.Current
	habit.LongestStreak = s.Longest
	habit.TotalCompletions = s.Total
	habit.LastCompletedAt = s.LastCompletedAt
}

func utcDay(value time.Time) time.Time {
	year, month, day := value.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// RebuildStreaks recomputes the stored streak fields of every habit from its events.
// It returns the number of habits whose fields changed.
func RebuildStreaks(db *gorm.DB, now time.Time) (int, error) {
	var stored []Habit
	if err := db.Order("id").Find(&stored).Error; err != nil {
		return 0, err
	}
	changed := 0
	for index := range stored {
		habit := stored[index]
		var events []HabitEvent
		if err := db.Where("habit_id = ?", habit.ID).Find(&events).Error; err != nil {
			return changed, err
		}
		before := habit
		resolveStreak(events, now).applyTo(&habit)
		if sameStreak(before, habit) {
			continue
		}
		if err := db.Model(&Habit{}).Where("id = ?", habit.ID).Updates(map[string]any{
			"current_streak":    habit.CurrentStreak,
			"longest_streak":    habit.LongestStreak,
			"total_completions": habit.TotalCompletions,
			"last_completed_at": habit.LastCompletedAt,
		}).Error; err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func sameStreak(a, b Habit) bool {
	if a.CurrentStreak != b.CurrentStreak || a.LongestStreak != b.LongestStreak || a.TotalCompletions != b.TotalCompletions {
		return false
	}
	if a.LastCompletedAt == nil || b.LastCompletedAt == nil {
		return a.LastCompletedAt == nil && b.LastCompletedAt == nil
	}
	return a.LastCompletedAt.Equal(*b.LastCompletedAt)
}
