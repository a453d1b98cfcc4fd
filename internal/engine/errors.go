package engine

import (
	"errors"
	"fmt"
)

// ErrFinalized is returned when a run or dispatch is attempted on an
// engine that has already completed its run.
var ErrFinalized = errors.New("engine finalized: no further dispatch permitted")

// ErrStarted is returned when a pre-run mutation (conditions, output
// hook) or a second concurrent Run is attempted after the run began.
var ErrStarted = errors.New("engine already started: configuration is immutable")

// ConfigurationError reports invalid inputs, detected eagerly before any
// device work. It always carries enough context to reproduce.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
