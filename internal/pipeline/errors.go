package pipeline

import (
	"errors"
	"fmt"
)

// ErrSkip is returned by a step that deliberately did nothing. The state is
// left unchanged and no error is recorded.
var ErrSkip = errors.New("step skipped")

// Severity grades a step failure.
type Severity string

const (
	// SeverityCritical stops the run; remaining steps are skipped.
	SeverityCritical Severity = "critical"
	// SeverityHigh is recorded and the run continues. This is the default.
	SeverityHigh Severity = "high"
)

// StepError is a step failure with a severity.
type StepError struct {
	Step     string
	Severity Severity
	Err      error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Fatal marks err as critical so the pipeline stops after recording it.
// Use it for setup failures such as a missing profile.
func Fatal(err error) error {
	return &StepError{Severity: SeverityCritical, Err: err}
}

func isCritical(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Severity == SeverityCritical
}

// MissingFieldError reports a required seed field absent from the initial state.
type MissingFieldError struct {
	Pipeline string
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Pipeline, e.Field)
}

// Diagnostic formats a step failure the way it appears in a state's error list.
func Diagnostic(step string, err error) string {
	return fmt.Sprintf("%s: %v", step, err)
}

// Err aggregates a state's errors into one error, or nil when there are none.
func Err(s interface{ ErrorList() []string }) error {
	list := s.ErrorList()
	if len(list) == 0 {
		return nil
	}
	errs := make([]error, len(list))
	for i, msg := range list {
		errs[i] = errors.New(msg)
	}
	return errors.Join(errs...)
}
