package offlinequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

// deliver routes one op to the repository. Undecodable input can never succeed,
// so it is reported as a validation failure.
func deliver(ctx context.Context, repository habits.Repository, op MutOp) error {
	switch op.Kind {
	case KindCreateHabit:
		var input habits.NewHabitInput
		if err := decodeInput(op, &input); err != nil {
			return err
		}
		_, err := repository.CreateHabit(ctx, input)
		return err
	case KindUpdateHabit:
		var request habits.UpdateHabitRequest
		if err := decodeInput(op, &request); err != nil {
			return err
		}
		_, err := repository.UpdateHabit(ctx, request.ID, request.Patch)
		return err
	case KindDeleteHabit:
		var habitID string
		if err := decodeInput(op, &habitID); err != nil {
			return err
		}
		_, err := repository.DeleteHabit(ctx, habitID)
		return err
	case KindMarkDone:
		var input habits.MarkDoneInput
		if err := decodeInput(op, &input); err != nil {
			return err
		}
		_, err := repository.MarkDone(ctx, input)
		return err
	case KindUndoEvent:
		var eventID string
		if err := decodeInput(op, &eventID); err != nil {
			return err
		}
		_, err := repository.UndoEvent(ctx, eventID)
		return err
	default:
		return dataerr.New(dataerr.CodeValidationFailed, fmt.Sprintf("unknown op kind %q", op.Kind))
	}
}

func decodeInput(op MutOp, target any) error {
	if len(op.Input) == 0 || strings.TrimSpace(string(op.Input)) == "null" {
		return dataerr.New(dataerr.CodeValidationFailed, fmt.Sprintf("%s: missing input", op.Kind))
	}
	if err := json.Unmarshal(op.Input, target); err != nil {
		return dataerr.Wrap(dataerr.CodeValidationFailed, fmt.Errorf("%s: decode input: %w", op.Kind, err))
	}
	return nil
}
