// Package errors wraps the standard errors package with message chaining
// and the error taxonomy workers use to decide how a failed tick is handled.
package errors

import (
	"errors"
	"fmt"
)

var _ error = (*chainError)(nil)

func New(text string) error {
	return errors.New(text)
}

// Wrap prefixes err with text. The result still matches err with Is and As.
func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}
	if text == "" {
		return err
	}
	return &chainError{cause: err, msg: text}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

type chainError struct {
	cause error
	msg   string
}

const sep = ", err: "

func (e *chainError) Error() string {
	return e.msg + sep + e.cause.Error()
}

func (e *chainError) Unwrap() error {
	return e.cause
}
