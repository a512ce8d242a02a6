package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

func TestHabitsAPIFlow(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.token(t, "user-1")

	created := env.do(t, http.MethodPost, "/habits", token, `{"title":"Read"}`, nil)
	if created.Code != http.StatusOK {
		t.Fatalf("create habit: status %d body %s", created.Code, created.Body.String())
	}
	var habit habits.Habit
	if err := json.Unmarshal(created.Body.Bytes(), &habit); err != nil {
		t.Fatalf("decode habit: %v", err)
	}
	if habit.ID == "" || habit.Title != "Read" || habit.UserID != "user-1" {
		t.Fatalf("unexpected habit %+v", habit)
	}

	listed := env.do(t, http.MethodGet, "/habits", token, "", nil)
	var list habitListPayload
	if err := json.Unmarshal(listed.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Habits) != 1 || list.Habits[0].ID != habit.ID {
		t.Fatalf("unexpected list %+v", list.Habits)
	}

	markBody := fmt.Sprintf(`{"habit_id":%q,"idempotency_key":%q,"occurred_at_tz":{"tz":"UTC","at":%q}}`,
		habit.ID, habits.NewIdempotencyKey(), time.Now().UTC().Format(time.RFC3339Nano))
	marked := env.do(t, http.MethodPost, "/habits/mark-done", token, markBody, nil)
	if marked.Code != http.StatusOK {
		t.Fatalf("mark done: status %d body %s", marked.Code, marked.Body.String())
	}
	var event habits.HabitEvent
	if err := json.Unmarshal(marked.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}

	replayed := env.do(t, http.MethodPost, "/habits/mark-done", token, markBody, nil)
	if replayed.Code != http.StatusOK {
		t.Fatalf("replayed mark done: status %d", replayed.Code)
	}
	var replayedEvent habits.HabitEvent
	if err := json.Unmarshal(replayed.Body.Bytes(), &replayedEvent); err != nil {
		t.Fatalf("decode replayed event: %v", err)
	}
	if replayedEvent.ID != event.ID {
		t.Fatalf("expected replay to return event %s, got %s", event.ID, replayedEvent.ID)
	}

	streak := env.do(t, http.MethodGet, "/habits/"+habit.ID+"/streak", token, "", nil)
	var summary habits.StreakSummary
	if err := json.Unmarshal(streak.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode streak: %v", err)
	}
	if summary.Current != 1 || summary.Longest != 1 {
		t.Fatalf("unexpected streak after mark done %+v", summary)
	}

	undone := env.do(t, http.MethodPost, "/habit-events/"+event.ID+"/undo", token, "", nil)
	if undone.Code != http.StatusOK {
		t.Fatalf("undo: status %d body %s", undone.Code, undone.Body.String())
	}
	again := env.do(t, http.MethodPost, "/habit-events/"+event.ID+"/undo", token, "", nil)
	if again.Code != http.StatusOK {
		t.Fatalf("expected second undo to replay, got %d body %s", again.Code, again.Body.String())
	}
	var undoReplayed habits.HabitEvent
	if err := json.Unmarshal(again.Body.Bytes(), &undoReplayed); err != nil {
		t.Fatalf("decode replayed event: %v", err)
	}
	if undoReplayed.ID != event.ID || undoReplayed.UndoneAt == nil {
		t.Fatalf("unexpected replayed event %+v", undoReplayed)
	}

	streak = env.do(t, http.MethodGet, "/habits/"+habit.ID+"/streak", token, "", nil)
	if err := json.Unmarshal(streak.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode streak: %v", err)
	}
	if summary.Current != 0 {
		t.Fatalf("expected streak reset after undo, got %+v", summary)
	}
}

func TestHabitsAPIScopesHabitsToUser(t *testing.T) {
	env := newTestEnvironment(t)
	owner := env.token(t, "owner")
	stranger := env.token(t, "stranger")

	created := env.do(t, http.MethodPost, "/habits", owner, `{"title":"Stretch"}`, nil)
	var habit habits.Habit
	if err := json.Unmarshal(created.Body.Bytes(), &habit); err != nil {
		t.Fatalf("decode habit: %v", err)
	}

	patched := env.do(t, http.MethodPatch, "/habits/"+habit.ID, stranger, `{"title":"Hijacked"}`, nil)
	if patched.Code != http.StatusNotFound {
		t.Fatalf("expected not found for foreign habit, got %d", patched.Code)
	}
	deleted := env.do(t, http.MethodDelete, "/habits/"+habit.ID, stranger, "", nil)
	if deleted.Code != http.StatusNotFound {
		t.Fatalf("expected not found for foreign delete, got %d", deleted.Code)
	}
	listed := env.do(t, http.MethodGet, "/habits", stranger, "", nil)
	if listed.Body.String() != `{"habits":[]}` {
		t.Fatalf("stranger should see no habits, got %s", listed.Body.String())
	}
}

func TestHabitsAPIRejectsInvalidInput(t *testing.T) {
	env := newTestEnvironment(t)
	token := env.token(t, "user-1")

	recorder := env.do(t, http.MethodPost, "/habits", token, `{"title":""}`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for empty title, got %d", recorder.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != dataerr.CodeValidationFailed {
		t.Fatalf("unexpected error code %s", payload.Code)
	}
	recorder = env.do(t, http.MethodPost, "/habits/mark-done", token, `{not json`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed body, got %d", recorder.Code)
	}
}
