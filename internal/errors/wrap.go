package errors

import (
	"errors"
	"fmt"
)

// Wrap annotates err with a message while preserving its chain.
// Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Config builds a configuration error.
func Config(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfig)
}

// Transport builds a transport error, chaining cause when present.
func Transport(cause error, format string, args ...any) error {
	return categorized(ErrTransport, cause, format, args...)
}

// Protocol builds a protocol error, chaining cause when present.
func Protocol(cause error, format string, args ...any) error {
	return categorized(ErrProtocol, cause, format, args...)
}

// NotFound builds a not-found error.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Transient builds a retryable error, chaining cause when present.
func Transient(cause error, format string, args ...any) error {
	return categorized(ErrTransient, cause, format, args...)
}

// Internal builds an internal invariant error.
func Internal(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInternal)
}

func categorized(category, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%s: %w", msg, category)
	}
	return fmt.Errorf("%s: %w: %w", msg, category, cause)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool { return errors.As(err, target) }
