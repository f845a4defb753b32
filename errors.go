package gallerydb

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound            = errors.New("object not found")
	ErrKeyConflict         = errors.New("identity already exists")
	ErrConstraintViolation = errors.New("unique index constraint violated")
	ErrInvalidData         = errors.New("invalid data format")
	ErrValidation          = errors.New("validation failed")
	ErrProtected           = errors.New("protected entity")

	// Schema errors
	ErrUnknownStore    = errors.New("unknown store")
	ErrUnknownIndex    = errors.New("unknown index")
	ErrSchemaMigration = errors.New("schema migration failed")

	// Backend errors
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrClosed        = errors.New("backend closed")

	// Transaction errors
	ErrTransactionFailed = errors.New("transaction failed")
	ErrReadOnly          = errors.New("write in read-only transaction")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is an identity or unique index clash
func IsConflict(err error) bool {
	return errors.Is(err, ErrKeyConflict) || errors.Is(err, ErrConstraintViolation)
}

// IsPermanent checks if an error will recur when the same call is repeated
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrProtected) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrSchemaMigration)
}
