package engine

import (
	"errors"
	"fmt"
)

// State is a step of the run lifecycle. A run only moves forward:
// INIT → SETUP → RAMPING → DRAINING → TEARDOWN → EVALUATED.
type State int32

const (
	StateInit State = iota
	StateSetup
	StateRamping
	StateDraining
	StateTeardown
	StateEvaluated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSetup:
		return "SETUP"
	case StateRamping:
		return "RAMPING"
	case StateDraining:
		return "DRAINING"
	case StateTeardown:
		return "TEARDOWN"
	case StateEvaluated:
		return "EVALUATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Verdict is the overall outcome of a run.
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictAborted Verdict = "ABORTED"
)

// FailureKind classifies what went wrong.
type FailureKind string

const (
	// SetupFailure: setup could not produce its data. No load is generated.
	SetupFailure FailureKind = "SETUP_FAILURE"
	// RequestFailure: a transport error, timeout or error status. Counted
	// in http_req_failed; never stops the run.
	RequestFailure FailureKind = "REQUEST_FAILURE"
	// AssertionFailure: a failed check. Counted in checks and the error
	// metric; never stops the run.
	AssertionFailure FailureKind = "ASSERTION_FAILURE"
	// ThresholdFailure: at least one threshold did not hold.
	ThresholdFailure FailureKind = "THRESHOLD_FAILURE"
	// InternalFailure: the engine itself misbehaved.
	InternalFailure FailureKind = "INTERNAL_FAILURE"
)

// Sentinels matched by RunError.Is.
var (
	ErrSetupFailure    = errors.New("setup failure")
	ErrInternalFailure = errors.New("internal failure")
)

// RunError is returned by Engine.Run for failures that abort a run.
type RunError struct {
	Kind FailureKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *RunError) Is(target error) bool {
	switch target {
	case ErrSetupFailure:
		return e.Kind == SetupFailure
	case ErrInternalFailure:
		return e.Kind == InternalFailure
	}
	return false
}
