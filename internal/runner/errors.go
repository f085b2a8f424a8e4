package runner

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every *ConfigurationError with errors.Is.
var ErrConfiguration = errors.New("invalid run configuration")

// ErrConnection can be wrapped by senders to force a connection classification.
var ErrConnection = errors.New("connection error")

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid run configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// StatusError is returned by validators that reject a status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// PayloadError is returned by validators that accept the status but not the body.
type PayloadError struct {
	Msg string
}

func (e *PayloadError) Error() string {
	return "invalid response: " + e.Msg
}
