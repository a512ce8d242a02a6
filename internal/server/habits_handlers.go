package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
)

type habitListPayload struct {
	Habits []habits.Habit `json:"habits"`
}

type errorPayload struct {
	Error string         `json:"error"`
	Code  dataerr.Code   `json:"code"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func (h *httpHandler) userID(c *gin.Context) (habits.UserID, bool) {
	userID, err := habits.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) handleListHabits(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	list, err := h.habitsService.ListHabits(c.Request.Context(), userID)
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	if list == nil {
		list = []habits.Habit{}
	}
	c.JSON(http.StatusOK, habitListPayload{Habits: list})
}

func (h *httpHandler) handleCreateHabit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var input habits.NewHabitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writeDataError(c, dataerr.Wrap(dataerr.CodeValidationFailed, err))
		return
	}
	habit, err := h.habitsService.CreateHabit(c.Request.Context(), userID, input)
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	h.publishHabitsChanged(userID, habit.ID)
	c.JSON(http.StatusOK, habit)
}

func (h *httpHandler) handleUpdateHabit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var patch habits.UpdateHabitInput
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.writeDataError(c, dataerr.Wrap(dataerr.CodeValidationFailed, err))
		return
	}
	habit, err := h.habitsService.UpdateHabit(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	h.publishHabitsChanged(userID, habit.ID)
	c.JSON(http.StatusOK, habit)
}

func (h *httpHandler) handleDeleteHabit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	habit, err := h.habitsService.DeleteHabit(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	h.publishHabitsChanged(userID, habit.ID)
	c.JSON(http.StatusOK, habit)
}

func (h *httpHandler) handleGetStreak(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	summary, err := h.habitsService.GetStreak(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleMarkDone(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var input habits.MarkDoneInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writeDataError(c, dataerr.Wrap(dataerr.CodeValidationFailed, err))
		return
	}
	event, err := h.habitsService.MarkDone(c.Request.Context(), userID, input)
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	h.publishHabitsChanged(userID, event.HabitID)
	c.JSON(http.StatusOK, event)
}

func (h *httpHandler) handleUndoEvent(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	event, err := h.habitsService.UndoEvent(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeDataError(c, err)
		return
	}
	h.publishHabitsChanged(userID, event.HabitID)
	c.JSON(http.StatusOK, event)
}

func (h *httpHandler) publishHabitsChanged(userID habits.UserID, habitID string) {
	h.realtime.Publish(realtime.Message{
		UserID:    userID.String(),
		EventType: realtime.EventHabitsChanged,
		HabitIDs:  []string{habitID},
		Timestamp: h.clock().UTC(),
	})
}

// writeDataError renders classified failures as {error, code}. Persistence
// failures are logged by the service and reported without internals.
func (h *httpHandler) writeDataError(c *gin.Context, err error) {
	var classified *dataerr.Error
	if !errors.As(err, &classified) {
		var serviceErr *habits.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, errorPayload{Error: serviceErr.Code(), Code: dataerr.CodeUnknown})
			return
		}
		h.logger.Error("unclassified habits failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Code: dataerr.CodeUnknown})
		return
	}
	status := classified.Status
	if status == 0 {
		status = dataerr.HTTPStatus(classified.Code)
	}
	c.JSON(status, errorPayload{Error: classified.Message, Code: classified.Code, Meta: classified.Meta})
}
