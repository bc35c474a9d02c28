package errors

import (
	"errors"
	"fmt"
)

// Common error types for the visit tracking service
var (
	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrKeyFetch     = errors.New("signing key fetch failed")

	// Login flow errors
	ErrBadState     = errors.New("bad state")
	ErrTokenInvalid = errors.New("id token rejected")

	// Access errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")

	// Tracking errors
	ErrInvalidEvent       = errors.New("invalid event")
	ErrRotationInProgress = errors.New("rotation already in progress")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
