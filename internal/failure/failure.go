// Package failure maps raised errors onto the job error taxonomy.
package failure

import (
	"errors"
	"fmt"

	"conversion-job-service/internal/entity"
)

// ErrTooLarge marks failures caused by exceeding a size or quota limit.
var ErrTooLarge = errors.New("resource limit exceeded")

// Error is an already-classified failure. Engines may return it directly
// to choose the taxonomy kind themselves.
type Error struct {
	Kind        entity.ErrorKind
	Message     string
	Suggestions []string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind entity.ErrorKind, msg string, err error, suggestions ...string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err, Suggestions: suggestions}
}

func Validation(msg string, suggestions ...string) *Error {
	return New(entity.KindValidation, msg, nil, suggestions...)
}

func ResourceLimit(msg string, err error, suggestions ...string) *Error {
	if err == nil {
		err = ErrTooLarge
	}
	return New(entity.KindResourceLimit, msg, err, suggestions...)
}

func Network(msg string, err error, suggestions ...string) *Error {
	return New(entity.KindNetwork, msg, err, suggestions...)
}

func Engine(msg string, err error, suggestions ...string) *Error {
	return New(entity.KindEngine, msg, err, suggestions...)
}

func Internal(msg string, err error) *Error {
	return New(entity.KindInternal, msg, err)
}
