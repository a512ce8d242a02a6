package habits

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError reports a persistence failure with an "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "habits.service.new"
	opCreateHabit = "habits.create_habit"
	opUpdateHabit = "habits.update_habit"
	opDeleteHabit = "habits.delete_habit"
	opMarkDone    = "habits.mark_done"
	opUndoEvent   = "habits.undo_event"
	opListHabits  = "habits.list_habits"
	opGetStreak   = "habits.get_streak"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func habitNotFound(habitID string) error {
	return dataerr.New(dataerr.CodeValidationFailed, "habit not found: "+habitID).WithStatus(http.StatusNotFound)
}

func eventNotFound(eventID string) error {
	return dataerr.New(dataerr.CodeValidationFailed, "habit event not found: "+eventID).WithStatus(http.StatusNotFound)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Validator  *validatorv10.Validate
	Logger     *zap.Logger
}

// Service is the authoritative habit store. Every query is scoped to one user.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	validate   *validatorv10.Validate
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	validate := cfg.Validator
	if validate == nil {
		validate = NewValidator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		validate:   validate,
		logger:     logger,
	}, nil
}

// CreateHabit inserts a habit with empty streak fields. When input carries an ID that the
// user already owns, the stored habit is returned unchanged.
func (s *Service) CreateHabit(ctx context.Context, userID UserID, input NewHabitInput) (Habit, error) {
	input.ID = strings.TrimSpace(input.ID)
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		return Habit{}, validationError(err)
	}
	habitID := input.ID
	if habitID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateHabit, "id_generation_failed", err, zap.String("user_id", userID.String()))
			return Habit{}, newServiceError(opCreateHabit, "id_generation_failed", err)
		}
		habitID = generated
	}

	var created Habit
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ID != "" {
			var existing Habit
			err := tx.Where("id = ?", habitID).Take(&existing).Error
			switch {
			case err == nil:
				if existing.UserID != userID.String() {
					return dataerr.New(dataerr.CodeConflictVersion, "habit id already in use")
				}
				created = existing
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				s.logError(opCreateHabit, "habit_select_failed", err, zap.String("habit_id", habitID))
				return newServiceError(opCreateHabit, "habit_select_failed", err)
			}
		}

		now := s.clock().UTC()
		habit := Habit{
			ID:        habitID,
			UserID:    userID.String(),
			Title:     input.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&habit).Error; err != nil {
			s.logError(opCreateHabit, "insert_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opCreateHabit, "insert_failed", err)
		}
		created = habit
		return nil
	})
	if txErr != nil {
		return Habit{}, txErr
	}
	return created, nil
}

// UpdateHabit applies a partial patch.
func (s *Service) UpdateHabit(ctx context.Context, userID UserID, habitID string, patch UpdateHabitInput) (Habit, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		patch.Title = &trimmed
	}
	if err := s.validate.Struct(patch); err != nil {
		return Habit{}, validationError(err)
	}

	var updated Habit
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := s.lockHabit(tx, opUpdateHabit, userID, habitID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			habit.Title = *patch.Title
		}
		habit.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&habit).Error; err != nil {
			s.logError(opUpdateHabit, "save_failed", err, zap.String("habit_id", habitID))
			return newServiceError(opUpdateHabit, "save_failed", err)
		}
		updated = habit
		return nil
	})
	if txErr != nil {
		return Habit{}, txErr
	}
	return updated, nil
}

// DeleteHabit removes a habit and its events, returning the deleted row.
func (s *Service) DeleteHabit(ctx context.Context, userID UserID, habitID string) (Habit, error) {
	var deleted Habit
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := s.lockHabit(tx, opDeleteHabit, userID, habitID)
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND habit_id = ?", userID.String(), habit.ID).Delete(&HabitEvent{}).Error; err != nil {
			s.logError(opDeleteHabit, "event_delete_failed", err, zap.String("habit_id", habitID))
			return newServiceError(opDeleteHabit, "event_delete_failed", err)
		}
		if err := tx.Delete(&habit).Error; err != nil {
			s.logError(opDeleteHabit, "habit_delete_failed", err, zap.String("habit_id", habitID))
			return newServiceError(opDeleteHabit, "habit_delete_failed", err)
		}
		deleted = habit
		return nil
	})
	if txErr != nil {
		return Habit{}, txErr
	}
	return deleted, nil
}

// MarkDone records a completion. Replaying an idempotency key for the same habit returns the
// original event; reusing it for another habit is a version conflict.
func (s *Service) MarkDone(ctx context.Context, userID UserID, input MarkDoneInput) (HabitEvent, error) {
	if err := s.validate.Struct(input); err != nil {
		return HabitEvent{}, validationError(err)
	}
	occurredAt, err := input.OccurredAtTZ.Time()
	if err != nil {
		return HabitEvent{}, dataerr.Wrap(dataerr.CodeValidationFailed, err)
	}

	var recorded HabitEvent
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing HabitEvent
		err := tx.Where("user_id = ? AND idempotency_key = ?", userID.String(), input.IdempotencyKey).Take(&existing).Error
		switch {
		case err == nil:
			if existing.HabitID != input.HabitID {
				return dataerr.New(dataerr.CodeConflictVersion, "idempotency key already used for another habit")
			}
			recorded = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			s.logError(opMarkDone, "event_select_failed", err, zap.String("habit_id", input.HabitID))
			return newServiceError(opMarkDone, "event_select_failed", err)
		}

		habit, err := s.lockHabit(tx, opMarkDone, userID, input.HabitID)
		if err != nil {
			return err
		}
		eventID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opMarkDone, "id_generation_failed", err, zap.String("habit_id", input.HabitID))
			return newServiceError(opMarkDone, "id_generation_failed", err)
		}
		now := s.clock().UTC()
		event := HabitEvent{
			ID:             eventID,
			HabitID:        habit.ID,
			UserID:         userID.String(),
			IdempotencyKey: input.IdempotencyKey,
			EventType:      EventTypeMarkDone,
			OccurredAt:     occurredAt,
			TimeZone:       input.OccurredAtTZ.TZ,
			CreatedAt:      now,
		}
		if err := tx.Create(&event).Error; err != nil {
			s.logError(opMarkDone, "event_insert_failed", err, zap.String("habit_id", input.HabitID))
			return newServiceError(opMarkDone, "event_insert_failed", err)
		}
		if err := s.refreshStreak(tx, opMarkDone, &habit, now); err != nil {
			return err
		}
		recorded = event
		return nil
	})
	if txErr != nil {
		return HabitEvent{}, txErr
	}
	return recorded, nil
}

// UndoEvent retracts a completion. Undoing an already undone event returns it unchanged.
func (s *Service) UndoEvent(ctx context.Context, userID UserID, eventID string) (HabitEvent, error) {
	if strings.TrimSpace(eventID) == "" {
		return HabitEvent{}, dataerr.New(dataerr.CodeValidationFailed, "event id is required")
	}

	var undone HabitEvent
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event HabitEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND id = ?", userID.String(), eventID).
			Take(&event).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventNotFound(eventID)
		}
		if err != nil {
			s.logError(opUndoEvent, "event_select_failed", err, zap.String("event_id", eventID))
			return newServiceError(opUndoEvent, "event_select_failed", err)
		}
		if event.UndoneAt != nil {
			undone = event
			return nil
		}

		now := s.clock().UTC()
		event.UndoneAt = &now
		if err := tx.Save(&event).Error; err != nil {
			s.logError(opUndoEvent, "event_save_failed", err, zap.String("event_id", eventID))
			return newServiceError(opUndoEvent, "event_save_failed", err)
		}
		habit, err := s.lockHabit(tx, opUndoEvent, userID, event.HabitID)
		if err != nil {
			return err
		}
		if err := s.refreshStreak(tx, opUndoEvent, &habit, now); err != nil {
			return err
		}
		undone = event
		return nil
	})
	if txErr != nil {
		return HabitEvent{}, txErr
	}
	return undone, nil
}

// ListHabits returns the user's habits, oldest first.
func (s *Service) ListHabits(ctx context.Context, userID UserID) ([]Habit, error) {
	var habits []Habit
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at ASC, id ASC").
		Find(&habits).Error; err != nil {
		s.logError(opListHabits, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListHabits, "query_failed", err)
	}
	return habits, nil
}

// GetStreak recomputes the streak summary as of now.
func (s *Service) GetStreak(ctx context.Context, userID UserID, habitID string) (StreakSummary, error) {
	db := s.db.WithContext(ctx)
	var habit Habit
	err := db.Where("user_id = ? AND id = ?", userID.String(), habitID).Take(&habit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StreakSummary{}, habitNotFound(habitID)
	}
	if err != nil {
		s.logError(opGetStreak, "habit_select_failed", err, zap.String("habit_id", habitID))
		return StreakSummary{}, newServiceError(opGetStreak, "habit_select_failed", err)
	}
	var events []HabitEvent
	if err := db.Where("habit_id = ?", habit.ID).Find(&events).Error; err != nil {
		s.logError(opGetStreak, "event_select_failed", err, zap.String("habit_id", habitID))
		return StreakSummary{}, newServiceError(opGetStreak, "event_select_failed", err)
	}
	state := resolveStreak(events, s.clock())
	return StreakSummary{HabitID: habit.ID, Current: state.Current, Longest: state.Longest}, nil
}

func (s *Service) lockHabit(tx *gorm.DB, operation string, userID UserID, habitID string) (Habit, error) {
	var habit Habit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND id = ?", userID.String(), habitID).
		Take(&habit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Habit{}, habitNotFound(habitID)
	}
	if err != nil {
		s.logError(operation, "habit_select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("habit_id", habitID))
		return Habit{}, newServiceError(operation, "habit_select_failed", err)
	}
	return habit, nil
}

func (s *Service) refreshStreak(tx *gorm.DB, operation string, habit *Habit, now time.Time) error {
	var events []HabitEvent
	if err := tx.Where("habit_id = ?", habit.ID).Find(&events).Error; err != nil {
		s.logError(operation, "event_select_failed", err, zap.String("habit_id", habit.ID))
		return newServiceError(operation, "event_select_failed", err)
	}
	resolveStreak(events, now).applyTo(habit)
	habit.UpdatedAt = now
	if err := tx.Save(habit).Error; err != nil {
		s.logError(operation, "habit_save_failed", err, zap.String("habit_id", habit.ID))
		return newServiceError(operation, "habit_save_failed", err)
	}
	return nil
}

// ForUser binds the service to one user, yielding the Repository capability in-process.
func (s *Service) ForUser(userID UserID) ReadWriter {
	return &userScopedRepository{service: s, userID: userID}
}

type userScopedRepository struct {
	service *Service
	userID  UserID
}

func (r *userScopedRepository) CreateHabit(ctx context.Context, input NewHabitInput) (Habit, error) {
	return r.service.CreateHabit(ctx, r.userID, input)
}

func (r *userScopedRepository) UpdateHabit(ctx context.Context, id string, patch UpdateHabitInput) (Habit, error) {
	return r.service.UpdateHabit(ctx, r.userID, id, patch)
}

func (r *userScopedRepository) DeleteHabit(ctx context.Context, id string) (Habit, error) {
	return r.service.DeleteHabit(ctx, r.userID, id)
}

func (r *userScopedRepository) MarkDone(ctx context.Context, input MarkDoneInput) (HabitEvent, error) {
	return r.service.MarkDone(ctx, r.userID, input)
}

func (r *userScopedRepository) UndoEvent(ctx context.Context, eventID string) (HabitEvent, error) {
	return r.service.UndoEvent(ctx, r.userID, eventID)
}

func (r *userScopedRepository) ListHabits(ctx context.Context) ([]Habit, error) {
	return r.service.ListHabits(ctx, r.userID)
}

func (r *userScopedRepository) GetStreak(ctx context.Context, habitID string) (StreakSummary, error) {
	return r.service.GetStreak(ctx, r.userID, habitID)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("habits service error", attrs...)
}
