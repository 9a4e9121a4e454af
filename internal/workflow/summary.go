package workflow

import "github.com/JakeFAU/bidboard-harvester/internal/bid"

// Outcome classifies how a project left the workflow.
type Outcome string

// Project outcomes.
const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeStorageFailed    Outcome = "storage_failed"
)

// StopReason explains why a run ended.
type StopReason string

// Reasons a run ends.
const (
	StopQueueDrained   StopReason = "queue_drained"
	StopLimitReached   StopReason = "limit_reached"
	StopOperator       StopReason = "operator"
	StopInterrupted    StopReason = "interrupted"
	StopStorageFailure StopReason = "storage_failure"
)

// Result is what happened to one project.
type Result struct {
	ID      bid.Identifier
	Outcome Outcome
	Stage   bid.Stage
	Slot    bid.StorageSlot
	Err     error
}

// Summary reports a whole run.
type Summary struct {
	RunID      string
	Reconciled []bid.Identifier
	Results    []Result
	StopReason StopReason
	Remaining  int
}

// Completed counts projects recorded in the ledger during the run.
func (s Summary) Completed() int {
	return s.count(OutcomeCompleted)
}

// Failed counts projects left pending because of an error.
func (s Summary) Failed() int {
	return s.count(OutcomeFailed) + s.count(OutcomeStorageFailed)
}

func (s Summary) count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
