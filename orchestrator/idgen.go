package orchestrator

import "github.com/google/uuid"

// IDGenerator produces opaque identifiers for runs.
type IDGenerator interface {
	RunID() string
}

// UUIDGenerator produces prefixed random identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) RunID() string { return "run_" + uuid.NewString() }
