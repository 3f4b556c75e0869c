package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class is the recovery category of an engine failure.
type Class int

const (
	ClassFatal Class = iota
	ClassTransientAutomation
	ClassTransientIO
)

func (c Class) String() string {
	switch c {
	case ClassTransientAutomation:
		return "transient-automation"
	case ClassTransientIO:
		return "transient-io"
	default:
		return "fatal"
	}
}

// Transient reports whether a whole-session retry may recover from the failure.
func (c Class) Transient() bool {
	return c == ClassTransientAutomation || c == ClassTransientIO
}

// HRESULT codes the automation server returns while busy or restarting.
const (
	HResultCallRejected      uint32 = 0x80010001
	HResultRemoteCallFailed  uint32 = 0x800706BE
	HResultServerUnavailable uint32 = 0x800706BA
	HResultRetryLater        uint32 = 0x8001010A
)

var transientCodes = map[uint32]struct{}{
	HResultCallRejected:      {},
	HResultRemoteCallFailed:  {},
	HResultServerUnavailable: {},
	HResultRetryLater:        {},
}

var (
	// ErrEngineTimeout means the engine did not become ready or returned no output.
	ErrEngineTimeout = errors.New("engine: timed out waiting for output")
	// ErrFileLocked means the document is held open by another process.
	ErrFileLocked = errors.New("engine: document is locked by another process")
	// ErrAttemptsExhausted wraps the last error after the final retry.
	ErrAttemptsExhausted = errors.New("engine: attempts exhausted")
	// ErrProcessUnknown means the engine started but its process id could not
	// be resolved, so it cannot be killed on timeout.
	ErrProcessUnknown = errors.New("engine: process id unknown")
)

// AutomationError is a failed call into the automation server.
type AutomationError struct {
	Op      string
	Code    uint32
	Message string
}

func (e *AutomationError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("automation %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("automation %s: 0x%08X %s", e.Op, e.Code, e.Message)
}

// BusinessError carries the failure text the macro wrote into the last-error binding.
type BusinessError struct {
	Message string
}

func (e *BusinessError) Error() string {
	return "report macro error: " + e.Message
}

var transientAutomationMarkers = []string{
	"call was rejected by callee",
	"the remote procedure call failed",
	"rpc server is unavailable",
	"servercall_retrylater",
	"servercall retrylater",
	"0x80010001",
	"0x800706be",
	"0x800706ba",
	"0x8001010a",
	"-2147418111",
	"-2147023170",
	"-2147023174",
	"-2147417846",
}

var transientIOMarkers = []string{
	"cannot access the file",
	"being used by another process",
}

// Classify maps an error to exactly one recovery class. A nil error is fatal
// by convention; callers only classify failures.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	var business *BusinessError
	if errors.As(err, &business) {
		return ClassFatal
	}
	if errors.Is(err, ErrEngineTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var automation *AutomationError
	if errors.As(err, &automation) {
		if _, ok := transientCodes[automation.Code]; ok {
			return ClassTransientAutomation
		}
	}
	if errors.Is(err, ErrFileLocked) {
		return ClassTransientIO
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientAutomationMarkers...) {
		return ClassTransientAutomation
	}
	if containsAny(msg, transientIOMarkers...) {
		return ClassTransientIO
	}
	return ClassFatal
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
