package billing

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicateKey is returned when an insert hits a uniqueness constraint.
var ErrDuplicateKey = gorm.ErrDuplicatedKey

// ValidationError is a user-facing request problem (bad plan code, missing
// billing profile). Not retryable.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IntegrityError marks a webhook or provider response that contradicts local
// state (amount/currency mismatch, untrusted redirect URL). It always aborts
// the surrounding transaction and propagates.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string {
	return e.Msg
}

func NewIntegrityError(format string, args ...any) *IntegrityError {
	return &IntegrityError{Msg: fmt.Sprintf(format, args...)}
}

// IsIntegrityError checks if an error is an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
