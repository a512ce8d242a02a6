package optimistic

import (
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

func sampleList() State {
	yesterday := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return HabitList([]habits.Habit{
		{ID: "h1", Title: "Read", CurrentStreak: 2, LastCompletedAt: &yesterday, TotalCompletions: 4},
		{ID: "h2", Title: "Run"},
	})
}

func TestMarkDoneThenUndoRestoresList(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)
	for _, habitID := range []string{"h1", "h2"} {
		original := sampleList()
		input := habits.MarkDoneInput{HabitID: habitID, OccurredAtTZ: habits.NewOccurredAt("UTC", now)}

		marked := ApplyMarkDone(original, input, now)
		restored := ApplyUndo(marked, UndoInput{HabitID: habitID})
		if !reflect.DeepEqual(original, restored) {
			t.Fatalf("habit %s: expected round trip to restore %+v, got %+v", habitID, original, restored)
		}
	}
}

func TestMarkDonePaintsOnlyMatchingHabit(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)
	original := sampleList()
	input := habits.MarkDoneInput{HabitID: "h2", OccurredAtTZ: habits.OccurredAt{TZ: "UTC", At: "2026-06-02T07:00:00Z"}}

	marked := ApplyMarkDone(original, input, now)
	if !reflect.DeepEqual(marked.Habits[0], original.Habits[0]) {
		t.Fatalf("expected untouched habit to pass through")
	}
	target := marked.Habits[1]
	if !target.OptimisticMarked || target.LastCompletedAt == nil || !target.LastCompletedAt.Equal(time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected painted habit %+v", target)
	}
	if original.Habits[1].OptimisticMarked {
		t.Fatalf("expected input state to stay unchanged")
	}

	again := ApplyMarkDone(marked, input, now)
	if !reflect.DeepEqual(again, marked) {
		t.Fatalf("expected repeated paint to be stable")
	}
}

func TestMarkDoneFallsBackToNow(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)
	marked := ApplyMarkDone(sampleList(), habits.MarkDoneInput{HabitID: "h2"}, now)
	if !marked.Habits[1].LastCompletedAt.Equal(now) {
		t.Fatalf("expected now, got %v", marked.Habits[1].LastCompletedAt)
	}
}

func TestEventBasedUndoStripsEveryMarker(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)
	state := sampleList()
	state = ApplyMarkDone(state, habits.MarkDoneInput{HabitID: "h1"}, now)
	state = ApplyMarkDone(state, habits.MarkDoneInput{HabitID: "h2"}, now)

	undone := ApplyUndo(state, UndoInput{EventID: "event-1"})
	for _, habit := range undone.Habits {
		if habit.OptimisticMarked {
			t.Fatalf("expected marker stripped from %s", habit.ID)
		}
	}
}

func TestStreakSummaryTransforms(t *testing.T) {
	state := StreakSummary(habits.StreakSummary{HabitID: "h1", Current: 4, Longest: 4})
	marked := ApplyMarkDone(state, habits.MarkDoneInput{HabitID: "h1"}, time.Now())
	if marked.Streak.Current != 5 || marked.Streak.Longest != 5 || !marked.Streak.OptimisticMarked {
		t.Fatalf("unexpected marked streak %+v", marked.Streak)
	}
	if state.Streak.Current != 4 {
		t.Fatalf("expected input streak to stay unchanged")
	}
	undone := ApplyUndo(marked, UndoInput{HabitID: "h1"})
	if undone.Streak.Current != 4 || undone.Streak.OptimisticMarked {
		t.Fatalf("unexpected undone streak %+v", undone.Streak)
	}

	unmarked := ApplyUndo(state, UndoInput{HabitID: "h1"})
	if unmarked.Streak.Current != 4 {
		t.Fatalf("expected undo without marker to be a no-op")
	}

	other := ApplyMarkDone(state, habits.MarkDoneInput{HabitID: "h9"}, time.Now())
	if other.Streak.Current != 4 {
		t.Fatalf("expected streak for another habit to be untouched")
	}
}

func TestUndoNeverDrivesStreakNegative(t *testing.T) {
	for _, start := range []int{0, -3} {
		state := State{Kind: KindStreakSummary, Streak: &CachedStreak{
			StreakSummary:    habits.StreakSummary{HabitID: "h1", Current: start},
			OptimisticMarked: true,
		}}
		undone := ApplyUndo(state, UndoInput{HabitID: "h1"})
		if undone.Streak.Current < 0 {
			t.Fatalf("start %d: expected floor at zero, got %d", start, undone.Streak.Current)
		}
	}
}

func TestOtherShapesPassThrough(t *testing.T) {
	state := State{Kind: KindOther, Other: map[string]int{"a": 1}}
	if !reflect.DeepEqual(ApplyMarkDone(state, habits.MarkDoneInput{HabitID: "h1"}, time.Now()), state) {
		t.Fatalf("expected unchanged state")
	}
	if !reflect.DeepEqual(ApplyUndo(state, UndoInput{HabitID: "h1"}), state) {
		t.Fatalf("expected unchanged state")
	}
}
