package tiles

import (
	"fmt"
)

// Reason classifies a terminal generation failure.
type Reason string

const (
	ReasonResourceExhausted   Reason = "resource_exhausted"
	ReasonCompilerFailed      Reason = "compiler_failed"
	ReasonTimeout             Reason = "timeout"
	ReasonCompilerUnavailable Reason = "compiler_unavailable"
	ReasonNoFeatures          Reason = "no_features"
	ReasonInvalidOutput       Reason = "invalid_output"
)

// GenerationError carries what is needed to reproduce a failed job.
type GenerationError struct {
	Reason       Reason
	Attempts     int
	Retries      int
	Degradations int
	Profile      Profile // last profile tried
	ExitCode     int
	Output       string // tail of compiler output
	History      []Transition
	Err          error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("tile generation failed (%s) after %d attempt(s), %d degradation(s), profile %s",
		e.Reason, e.Attempts, e.Degradations, e.Profile)
	if e.Attempts > 0 && e.Reason != ReasonInvalidOutput {
		msg += fmt.Sprintf(", last exit %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }
