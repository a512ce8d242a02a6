package habits

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType enumerates recorded habit events.
type EventType string

const (
	// EventTypeMarkDone records a completion.
	EventTypeMarkDone EventType = "mark_done"
	// EventTypeUndo is reported to achievement evaluation for undone completions.
	EventTypeUndo EventType = "undo"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidHabitID indicates that a habit identifier is empty or exceeds storage bounds.
	ErrInvalidHabitID = errors.New("habits: invalid habit id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("habits: invalid user id")
	// ErrInvalidOccurredAt indicates that an occurred_at timestamp is not RFC3339.
	ErrInvalidOccurredAt = errors.New("habits: invalid occurred_at")
)

// HabitID represents a validated habit identifier.
type HabitID string

// NewHabitID validates raw input and returns a HabitID.
func NewHabitID(rawInput string) (HabitID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHabitID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidHabitID, maxIdentifierLength)
	}
	return HabitID(trimmed), nil
}

// String returns the underlying string identifier.
func (id HabitID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Habit is the persisted habit with server-computed streak fields.
type Habit struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index:idx_habits_user_created,priority:1" json:"user_id"`
	Title            string     `gorm:"column:title;size:190;not null" json:"title"`
	CurrentStreak    int        `gorm:"column:current_streak;not null;default:0" json:"current_streak"`
	LongestStreak    int        `gorm:"column:longest_streak;not null;default:0" json:"longest_streak"`
	LastCompletedAt  *time.Time `gorm:"column:last_completed_at" json:"last_completed_at"`
	TotalCompletions int        `gorm:"column:total_completions;not null;default:0" json:"total_completions"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;index:idx_habits_user_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Habit) TableName() string {
	return "habits"
}

// HabitEvent is the append-only record behind markDone and undoEvent.
type HabitEvent struct {
	ID             string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	HabitID        string     `gorm:"column:habit_id;size:190;not null;index:idx_habit_events_habit" json:"habit_id"`
	UserID         string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_habit_events_idempotency,priority:1" json:"user_id"`
	IdempotencyKey string     `gorm:"column:idempotency_key;size:190;not null;uniqueIndex:idx_habit_events_idempotency,priority:2" json:"idempotency_key"`
	EventType      EventType  `gorm:"column:event_type;size:32;not null" json:"event_type"`
	OccurredAt     time.Time  `gorm:"column:occurred_at;not null" json:"occurred_at"`
	TimeZone       string     `gorm:"column:tz;size:64;not null;default:'UTC'" json:"tz"`
	UndoneAt       *time.Time `gorm:"column:undone_at" json:"undone_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (HabitEvent) TableName() string {
	return "habit_events"
}

// StreakSummary is the read model served for a single habit.
type StreakSummary struct {
	HabitID string `json:"habit_id"`
	Current int    `json:"current"`
	Longest int    `json:"longest"`
}

// OccurredAt carries the wall-clock instant and zone of a completion.
type OccurredAt struct {
	TZ string `json:"tz" validate:"required,max=64"`
	At string `json:"at" validate:"required"`
}

// NewOccurredAt stamps at in the given zone; an empty zone falls back to the local zone name.
func NewOccurredAt(tz string, at time.Time) OccurredAt {
	zone := strings.TrimSpace(tz)
	if zone == "" {
		zone = time.Local.String()
	}
	return OccurredAt{TZ: zone, At: at.UTC().Format(time.RFC3339Nano)}
}

// Time parses At.
func (o OccurredAt) Time() (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(o.At))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidOccurredAt, err)
	}
	return parsed.UTC(), nil
}

// NewHabitInput creates a habit. A client-chosen ID makes the create replayable: a second
// create with the same ID returns the stored habit.
type NewHabitInput struct {
	ID    string `json:"id,omitempty" validate:"omitempty,uuid"`
	Title string `json:"title" validate:"required,max=190"`
}

// UpdateHabitInput patches a habit; nil fields are left untouched.
type UpdateHabitInput struct {
	Title *string `json:"title,omitempty" validate:"omitempty,min=1,max=190"`
}

// UpdateHabitRequest is the queued payload for updateHabit.
type UpdateHabitRequest struct {
	ID    string           `json:"id" validate:"required"`
	Patch UpdateHabitInput `json:"patch"`
}

// MarkDoneInput records one completion. IdempotencyKey collapses retries into one event.
type MarkDoneInput struct {
	HabitID        string     `json:"habit_id" validate:"required,max=190"`
	IdempotencyKey string     `json:"idempotency_key" validate:"required,uuid"`
	OccurredAtTZ   OccurredAt `json:"occurred_at_tz" validate:"required"`
}
