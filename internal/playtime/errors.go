package playtime

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTimeLimitExceeded  = errors.New("daily time limit exceeded")
	ErrSessionNotFound    = errors.New("active session not found")
	ErrAccountInactive    = errors.New("cannot set time limit for inactive account")
	ErrAlreadyExists      = errors.New("account already exists")
)

// ValidationError reports caller input rejected before reaching the engine.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateLimit checks a daily limit supplied at a boundary.
func ValidateLimit(minutes int) error {
	if minutes <= 0 {
		return &ValidationError{Field: "daily_limit_minutes", Message: "must be a positive number of minutes"}
	}
	return nil
}
