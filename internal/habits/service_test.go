package habits

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
)

type sequenceIDProvider struct {
	counter atomic.Int64
}

func (p *sequenceIDProvider) NewID() (string, error) {
	return fmt.Sprintf("id-%03d", p.counter.Add(1)), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:habits_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Habit{}, &HabitEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, clock
}

func markDoneInput(habitID string, key string, at time.Time) MarkDoneInput {
	return MarkDoneInput{
		HabitID:        habitID,
		IdempotencyKey: key,
		OccurredAtTZ:   NewOccurredAt("Europe/Berlin", at),
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{IDProvider: NewUUIDProvider()})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "habits.service.new.missing_database" {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestCreateUpdateDeleteHabit(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	user := UserID("user-a")

	habit, err := service.CreateHabit(ctx, user, NewHabitInput{Title: "  Read  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if habit.Title != "Read" || habit.UserID != "user-a" {
		t.Fatalf("unexpected habit %+v", habit)
	}

	title := "Read 20 pages"
	updated, err := service.UpdateHabit(ctx, user, habit.ID, UpdateHabitInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("unexpected title %q", updated.Title)
	}

	if _, err := service.UpdateHabit(ctx, UserID("user-b"), habit.ID, UpdateHabitInput{Title: &title}); dataerr.CodeOf(err) != dataerr.CodeValidationFailed {
		t.Fatalf("expected foreign user to see not found, got %v", err)
	}

	if _, err := service.DeleteHabit(ctx, user, habit.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	habits, err := service.ListHabits(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(habits) != 0 {
		t.Fatalf("expected no habits, got %d", len(habits))
	}
}

func TestCreateHabitReplaysClientID(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	user := UserID("user-a")
	clientID := "0192f0a1-7c3e-7b4d-9a10-5f2c3d4e5f60"

	first, err := service.CreateHabit(ctx, user, NewHabitInput{ID: clientID, Title: "Read"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != clientID {
		t.Fatalf("expected client id to be kept, got %q", first.ID)
	}
	second, err := service.CreateHabit(ctx, user, NewHabitInput{ID: clientID, Title: "Read"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected replay to return the stored habit, got %+v", second)
	}
	list, err := service.ListHabits(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one habit after replay, got %d", len(list))
	}

	if _, err := service.CreateHabit(ctx, UserID("user-b"), NewHabitInput{ID: clientID, Title: "Read"}); dataerr.CodeOf(err) != dataerr.CodeConflictVersion {
		t.Fatalf("expected foreign reuse of the id to conflict, got %v", err)
	}
	if _, err := service.CreateHabit(ctx, user, NewHabitInput{ID: "not-a-uuid", Title: "Read"}); dataerr.CodeOf(err) != dataerr.CodeValidationFailed {
		t.Fatalf("expected malformed id to fail validation, got %v", err)
	}
}

func TestCreateHabitRejectsEmptyTitle(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.CreateHabit(context.Background(), UserID("user-a"), NewHabitInput{Title: "   "})
	if dataerr.CodeOf(err) != dataerr.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestMarkDoneIsIdempotentPerKey(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()
	user := UserID("user-a")
	habit, err := service.CreateHabit(ctx, user, NewHabitInput{Title: "Run"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := NewIdempotencyKey()

	first, err := service.MarkDone(ctx, user, markDoneInput(habit.ID, key, clock.now))
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	replay, err := service.MarkDone(ctx, user, markDoneInput(habit.ID, key, clock.now))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != replay.ID {
		t.Fatalf("expected replay to return the original event")
	}
	if first.TimeZone != "Europe/Berlin" {
		t.Fatalf("expected zone to be recorded, got %q", first.TimeZone)
	}

	habits, err := service.ListHabits(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if habits[0].TotalCompletions != 1 || habits[0].CurrentStreak != 1 {
		t.Fatalf("expected a single completion, got %+v", habits[0])
	}

	other, err := service.CreateHabit(ctx, user, NewHabitInput{Title: "Swim"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = service.MarkDone(ctx, user, markDoneInput(other.ID, key, clock.now))
	if dataerr.CodeOf(err) != dataerr.CodeConflictVersion {
		t.Fatalf("expected conflict for reused key, got %v", err)
	}
}

func TestMarkDoneValidatesInput(t *testing.T) {
	service, clock := newTestService(t)
	input := markDoneInput("habit", "not-a-uuid", clock.now)
	_, err := service.MarkDone(context.Background(), UserID("user-a"), input)
	var classified *dataerr.Error
	if !errors.As(err, &classified) || classified.Code != dataerr.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if classified.Meta["fields"] == nil {
		t.Fatalf("expected field details in meta")
	}

	input = markDoneInput("habit", NewIdempotencyKey(), clock.now)
	input.OccurredAtTZ.At = "yesterday"
	if _, err := service.MarkDone(context.Background(), UserID("user-a"), input); dataerr.CodeOf(err) != dataerr.CodeValidationFailed {
		t.Fatalf("expected invalid timestamp to fail validation, got %v", err)
	}
}

func TestMarkDoneUnknownHabitIsNotFound(t *testing.T) {
	service, clock := newTestService(t)
	_, err := service.MarkDone(context.Background(), UserID("user-a"), markDoneInput("missing", NewIdempotencyKey(), clock.now))
	var classified *dataerr.Error
	if !errors.As(err, &classified) || classified.Status != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStreakAcrossDaysAndUndo(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()
	user := UserID("user-a")
	habit, err := service.CreateHabit(ctx, user, NewHabitInput{Title: "Meditate"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var lastEvent HabitEvent
	start := clock.now
	for day := 0; day < 3; day++ {
		clock.now = start.AddDate(0, 0, day)
		lastEvent, err = service.MarkDone(ctx, user, markDoneInput(habit.ID, NewIdempotencyKey(), clock.now))
		if err != nil {
			t.Fatalf("mark done day %d: %v", day, err)
		}
	}
	summary, err := service.GetStreak(ctx, user, habit.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if summary.Current != 3 || summary.Longest != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if _, err := service.UndoEvent(ctx, user, lastEvent.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	summary, err = service.GetStreak(ctx, user, habit.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if summary.Current != 2 || summary.Longest != 2 {
		t.Fatalf("unexpected summary after undo %+v", summary)
	}

	replayed, err := service.UndoEvent(ctx, user, lastEvent.ID)
	if err != nil {
		t.Fatalf("expected second undo to replay, got %v", err)
	}
	if replayed.ID != lastEvent.ID || replayed.UndoneAt == nil {
		t.Fatalf("unexpected replayed event %+v", replayed)
	}
	summary, err = service.GetStreak(ctx, user, habit.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if summary.Current != 2 {
		t.Fatalf("expected replayed undo to leave streak at 2, got %+v", summary)
	}
	if _, err := service.UndoEvent(ctx, UserID("user-b"), lastEvent.ID); dataerr.CodeOf(err) != dataerr.CodeValidationFailed {
		t.Fatalf("expected foreign undo to be not found, got %v", err)
	}
}

func TestForUserScopesRepository(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	repoA := service.ForUser(UserID("user-a"))
	repoB := service.ForUser(UserID("user-b"))

	if _, err := repoA.CreateHabit(ctx, NewHabitInput{Title: "Walk"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	habitsA, err := repoA.ListHabits(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	habitsB, err := repoB.ListHabits(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(habitsA) != 1 || len(habitsB) != 0 {
		t.Fatalf("expected per-user isolation, got %d and %d", len(habitsA), len(habitsB))
	}
}
