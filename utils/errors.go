package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewOutOfRangeError is used when a numeric argument is outside of its allowed range.
func NewOutOfRangeError(name string, value interface{}, allowed string) error {
	return errors.Errorf("%s (%v) must be %s", name, value, allowed)
}
