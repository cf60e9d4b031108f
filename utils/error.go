package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorVersionConflict means the row still exists but its version moved
// between read and write (another admin edit or a concurrently running tick).
var ErrorVersionConflict = errors.New("record was modified concurrently")

// ValidationError marks bad input on administrative operations so the HTTP
// layer can map it to 400 instead of a generic 500.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
