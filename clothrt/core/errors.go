package core

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration        = errors.New("invalid cloth configuration")
	ErrNumericalInstability = errors.New("cloth simulation became numerically unstable")
	ErrBufferMismatch       = errors.New("particle and topology buffers do not match")
)

// ConfigurationError is returned at setup time for a parameter that cannot produce a valid simulation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InstabilityError names the first particle found with a non-finite position or velocity.
type InstabilityError struct {
	Frame    uint64
	Substep  int
	Particle int
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("frame %d substep %d: particle %d is not finite", e.Frame, e.Substep, e.Particle)
}

func (e *InstabilityError) Unwrap() error {
	return ErrNumericalInstability
}
