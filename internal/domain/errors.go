package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "VALIDATION_ERROR"
	ErrKindAdapter        ErrorKind = "ADAPTER_ERROR"
	ErrKindAuthentication ErrorKind = "AUTHENTICATION_ERROR"
	ErrKindPersistence    ErrorKind = "PERSISTENCE_ERROR"
)

// Error tags a failure with the kind that decides how the pipeline reacts:
// validation aborts before side effects, adapter and persistence failures are
// captured into the execution record, authentication fails the whole stream.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewValidationError(message string, cause error) *Error {
	return &Error{Kind: ErrKindValidation, Message: message, Cause: cause}
}

func NewAdapterError(message string, cause error) *Error {
	return &Error{Kind: ErrKindAdapter, Message: message, Cause: cause}
}

func NewAuthenticationError(message string, cause error) *Error {
	return &Error{Kind: ErrKindAuthentication, Message: message, Cause: cause}
}

func NewPersistenceError(message string, cause error) *Error {
	return &Error{Kind: ErrKindPersistence, Message: message, Cause: cause}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
