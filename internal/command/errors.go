package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrDuplicateRoute  = errors.New("command already registered")
	ErrRegistryFrozen  = errors.New("command registry is frozen")
	ErrBuilderRequired = errors.New("command builder is required")
)

// ValidationError explains why a payload was rejected.
type ValidationError struct {
	Command string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }
