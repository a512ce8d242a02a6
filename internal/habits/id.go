package habits

import "github.com/google/uuid"

// IDProvider issues identifiers for habits and events.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewIdempotencyKey returns a fresh random key suitable for MarkDoneInput.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// NewClientHabitID returns an id a client assigns to a habit before the server has seen it,
// so a queued create can be replayed safely.
func NewClientHabitID() string {
	return uuid.NewString()
}
