package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors of the ledger core. Handlers map these onto HTTP statuses;
// everything else surfaces as a 500.
var (
	ErrUnsupportedType    = errors.New("unsupported transaction type")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidRatio       = errors.New("invalid ratio")
	ErrNotFound           = errors.New("not found")
	ErrFxUnavailable      = errors.New("fx rate unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
)

// ValidationError reports a rejected input field. It unwraps to the sentinel
// that classifies it so callers can errors.Is on the category.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.kind }

// NewMissingFieldError reports an absent required field.
func NewMissingFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "required field is missing", kind: errMissingField}
}

var errMissingField = errors.New("missing required field")

// NewValidationError reports a field whose value fails a constraint.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, kind: errMissingField}
}

// IsValidation reports whether err is any validation failure, including the
// algebra's typed rejections.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrInvalidRatio)
}
