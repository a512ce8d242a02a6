package habits

import (
	"context"
	"net/http"
	"net/url"

	"github.com/MarcoPoloResearchLab/habituals/internal/httpclient"
)

// HTTPRepository talks to the habits API of a habituals server.
type HTTPRepository struct {
	client *httpclient.Client
}

// NewHTTPRepository wraps an authenticated transport.
func NewHTTPRepository(client *httpclient.Client) *HTTPRepository {
	return &HTTPRepository{client: client}
}

type habitListResponse struct {
	Habits []Habit `json:"habits"`
}

func (r *HTTPRepository) CreateHabit(ctx context.Context, input NewHabitInput) (Habit, error) {
	var habit Habit
	if err := r.client.Do(ctx, http.MethodPost, "/habits", input, &habit); err != nil {
		return Habit{}, err
	}
	return habit, nil
}

func (r *HTTPRepository) UpdateHabit(ctx context.Context, id string, patch UpdateHabitInput) (Habit, error) {
	var habit Habit
	if err := r.client.Do(ctx, http.MethodPatch, "/habits/"+url.PathEscape(id), patch, &habit); err != nil {
		return Habit{}, err
	}
	return habit, nil
}

func (r *HTTPRepository) DeleteHabit(ctx context.Context, id string) (Habit, error) {
	var habit Habit
	if err := r.client.Do(ctx, http.MethodDelete, "/habits/"+url.PathEscape(id), nil, &habit); err != nil {
		return Habit{}, err
	}
	return habit, nil
}

func (r *HTTPRepository) MarkDone(ctx context.Context, input MarkDoneInput) (HabitEvent, error) {
	var event HabitEvent
	if err := r.client.Do(ctx, http.MethodPost, "/habits/mark-done", input, &event); err != nil {
		return HabitEvent{}, err
	}
	return event, nil
}

func (r *HTTPRepository) UndoEvent(ctx context.Context, eventID string) (HabitEvent, error) {
	var event HabitEvent
	if err := r.client.Do(ctx, http.MethodPost, "/habit-events/"+url.PathEscape(eventID)+"/undo", nil, &event); err != nil {
		return HabitEvent{}, err
	}
	return event, nil
}

func (r *HTTPRepository) ListHabits(ctx context.Context) ([]Habit, error) {
	var response habitListResponse
	if err := r.client.Do(ctx, http.MethodGet, "/habits", nil, &response); err != nil {
		return nil, err
	}
	return response.Habits, nil
}

func (r *HTTPRepository) GetStreak(ctx context.Context, habitID string) (StreakSummary, error) {
	var summary StreakSummary
	if err := r.client.Do(ctx, http.MethodGet, "/habits/"+url.PathEscape(habitID)+"/streak", nil, &summary); err != nil {
		return StreakSummary{}, err
	}
	return summary, nil
}
