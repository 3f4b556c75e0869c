package state

import "time"

// Run is the ledger record of one report request through the pipeline.
type Run struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Year        int          `json:"year"`
	Week        int          `json:"week"`
	RequesterID int64        `json:"requester_id"`
	Channel     string       `json:"channel"`
	State       RunState     `json:"state"`
	Cause       FailureCause `json:"cause,omitempty"`
	Attempts    int          `json:"attempts"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Attempt is the ledger record of one engine session.
type Attempt struct {
	RunID      string         `json:"run_id"`
	Number     int            `json:"number"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
