package orchestrator

import (
	"context"
	"errors"

	"github.com/izavyalov-dev/reportd/engine"
	"github.com/izavyalov-dev/reportd/lock"
	"github.com/izavyalov-dev/reportd/state"
)

var (
	// ErrConfig means the request cannot be resolved to a runnable configuration.
	ErrConfig = errors.New("report configuration error")
	// ErrPipelineTimeout is the cancellation cause when a run exceeds its overall budget.
	ErrPipelineTimeout = errors.New("pipeline timed out")
	// ErrDelivery means the produced report could not be sent.
	ErrDelivery = errors.New("report delivery failed")
)

// causeFor maps a pipeline error to the ledger failure cause. parent is the
// caller's context, run the context carrying the overall timeout.
func causeFor(err error, parent, run context.Context) state.FailureCause {
	switch {
	case errors.Is(err, ErrConfig):
		return state.CauseConfig
	case errors.Is(err, ErrDelivery):
		return state.CauseDelivery
	case errors.Is(err, lock.ErrTimeout):
		return state.CauseLockTimeout
	case parent.Err() != nil:
		return state.CauseCanceled
	case run != nil && errors.Is(context.Cause(run), ErrPipelineTimeout):
		return state.CausePipelineTimeout
	}

	var business *engine.BusinessError
	switch {
	case errors.As(err, &business):
		return state.CauseBusiness
	case errors.Is(err, engine.ErrEngineTimeout):
		return state.CauseEngineTimeout
	case engine.IsExhausted(err):
		return state.CauseTransient
	default:
		return state.CauseFatal
	}
}

// userMessage is the only failure text requesters see.
func userMessage(cause state.FailureCause) string {
	switch cause {
	case state.CausePipelineTimeout, state.CauseEngineTimeout:
		return "Error: timeout"
	case state.CauseLockTimeout:
		return "Error: the report engine is busy, please try again later."
	default:
		return "Error generating report."
	}
}
