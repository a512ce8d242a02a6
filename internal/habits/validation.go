package habits

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
)

// NewValidator returns a validator with the habit input rules registered.
func NewValidator() *validatorv10.Validate {
	v := validatorv10.New(validatorv10.WithRequiredStructEnabled())
	v.RegisterStructValidation(occurredAtStructValidation, OccurredAt{})
	return v
}

func occurredAtStructValidation(sl validatorv10.StructLevel) {
	value := sl.Current().Interface().(OccurredAt)
	if strings.TrimSpace(value.At) == "" {
		return
	}
	if _, err := value.Time(); err != nil {
		sl.ReportError(value.At, "at", "At", "rfc3339", "")
	}
}

// validationError converts validator output into a permanent classified error.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrors validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return dataerr.Wrap(dataerr.CodeValidationFailed, err)
	}
	fields := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		fields = append(fields, fmt.Sprintf("%s:%s", fieldError.StructNamespace(), fieldError.Tag()))
	}
	sort.Strings(fields)
	classified := dataerr.New(dataerr.CodeValidationFailed, "invalid input: "+strings.Join(fields, ","))
	classified.Meta = map[string]any{"fields": fields}
	return classified
}
