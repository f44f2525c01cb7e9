package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, throttling,
	// leader elections.
	ErrTransient = errors.New("transient transport error")
	// ErrRejected marks payloads the stream refused outright.
	ErrRejected = errors.New("rejected by stream")
	// ErrUnauthorized marks authentication and authorization failures.
	// These escalate to process failure.
	ErrUnauthorized = errors.New("transport authorization failure")
	// ErrConfiguration is returned for missing stream or storage identity.
	ErrConfiguration = errors.New("fatal configuration error")
)

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func Rejected(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

func Unauthorized(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrConfiguration)
}
