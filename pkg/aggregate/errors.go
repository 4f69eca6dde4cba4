package aggregate

import (
	"errors"
	"strings"
)

// ErrMissingSource and ErrMissingFields are the configuration problems found
// before any record is read.
var (
	ErrMissingSource = errors.New(`you must specify "datasetId" parameter`)
	ErrMissingFields = errors.New(`missing required "fields" parameter`)
)

// ConfigurationError reports input that makes a run impossible. It is fatal
// and surfaces before any record is consumed.
type ConfigurationError struct {
	Problems []error
}

// NewConfigurationError wraps problems into a ConfigurationError.
func NewConfigurationError(problems ...error) *ConfigurationError {
	return &ConfigurationError{Problems: problems}
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}

	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *ConfigurationError) Unwrap() []error {
	return e.Problems
}

// PersistenceFailure reports a checkpoint save that did not complete. The run
// continues; the previous checkpoint stays the recovery point.
type PersistenceFailure struct {
	Offset int
	Err    error
}

func (e *PersistenceFailure) Error() string {
	return "checkpoint save failed: " + e.Err.Error()
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}
