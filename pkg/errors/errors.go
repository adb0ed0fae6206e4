package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrValidation is returned when caller input violates a documented constraint
	ErrValidation = errors.New("validation failed")

	// ErrEmptyInput is returned when text to be embedded is empty
	ErrEmptyInput = errors.New("empty input")

	// ErrEmbedder is returned when the embedding backend fails to load or infer
	ErrEmbedder = errors.New("embedding backend error")

	// ErrStore is returned when the underlying vector store operation fails
	ErrStore = errors.New("vector store error")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
