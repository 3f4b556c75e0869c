package state

import (
	"errors"
	"fmt"
	"slices"
)

// RunState is a pipeline state for one report request.
type RunState string

const (
	RunStateReceived    RunState = "RECEIVED"
	RunStateConfiguring RunState = "CONFIGURING"
	RunStateExecuting   RunState = "EXECUTING"
	RunStateDelivering  RunState = "DELIVERING"
	RunStateDone        RunState = "DONE"
	RunStateFailed      RunState = "FAILED"
)

var runTransitions = map[RunState][]RunState{
	RunStateReceived:    {RunStateConfiguring, RunStateFailed},
	RunStateConfiguring: {RunStateExecuting, RunStateFailed},
	RunStateExecuting:   {RunStateDelivering, RunStateFailed},
	RunStateDelivering:  {RunStateDone, RunStateFailed},
	RunStateDone:        {},
	RunStateFailed:      {},
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// FailureCause distinguishes why a run ended in FAILED.
type FailureCause string

const (
	CauseNone            FailureCause = ""
	CauseConfig          FailureCause = "config"
	CauseLockTimeout     FailureCause = "lock_timeout"
	CauseEngineTimeout   FailureCause = "engine_timeout"
	CausePipelineTimeout FailureCause = "pipeline_timeout"
	CauseBusiness        FailureCause = "business"
	CauseTransient       FailureCause = "transient_exhausted"
	CauseFatal           FailureCause = "fatal"
	CauseDelivery        FailureCause = "delivery"
	CauseCanceled        FailureCause = "canceled"
)

// AttemptOutcome is the result of one engine session attempt.
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptTransient AttemptOutcome = "transient-failure"
	AttemptFatal     AttemptOutcome = "fatal-failure"
)

// TransitionError signals an illegal state transition.
type TransitionError struct {
	ID   string
	From RunState
	To   RunState
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("run %s: invalid transition from %s to %s", e.ID, e.From, e.To)
}

// UnknownStateError signals a state value that is not part of the run state machine.
type UnknownStateError struct {
	State string
}

func (e UnknownStateError) Error() string {
	return fmt.Sprintf("run: unknown state %q", e.State)
}

// ValidateTransition checks a run state change against the pipeline state machine.
func ValidateTransition(id string, from, to RunState) error {
	allowed, ok := runTransitions[from]
	if !ok {
		return UnknownStateError{State: string(from)}
	}
	if _, ok := runTransitions[to]; !ok {
		return UnknownStateError{State: string(to)}
	}
	if !slices.Contains(allowed, to) {
		return TransitionError{ID: id, From: from, To: to}
	}
	return nil
}

func IsTransitionError(err error) bool {
	var te TransitionError
	return errors.As(err, &te)
}

func IsUnknownStateError(err error) bool {
	var ue UnknownStateError
	return errors.As(err, &ue)
}
