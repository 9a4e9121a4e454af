package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Run and project milestones.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageProjectStart Stage = "PROJECT_START"
	StageProjectDone  Stage = "PROJECT_DONE"
	StageProjectError Stage = "PROJECT_ERROR"
	StageDiscovery    Stage = "DISCOVERY"
)

// Event is one milestone of a run.
type Event struct {
	RunID string    `json:"run_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Identifier is set on project events.
	Identifier bid.Identifier `json:"identifier,omitempty"`
	// Sequence and Folder are set once a slot is known.
	Sequence int    `json:"sequence,omitempty"`
	Folder   string `json:"folder,omitempty"`
	// Step is the workflow stage a project failed at.
	Step  bid.Stage     `json:"step,omitempty"`
	Count int           `json:"count,omitempty"`
	Dur   time.Duration `json:"dur_ns,omitempty"`
	// Note carries short context such as an error message or stop reason.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageDiscovery:
	case StageProjectStart, StageProjectError:
		if !e.Identifier.Valid() {
			return fmt.Errorf("%s requires an identifier", e.Stage)
		}
	case StageProjectDone:
		if !e.Identifier.Valid() {
			return errors.New("project done requires an identifier")
		}
		if e.Sequence <= 0 {
			return errors.New("project done requires a sequence number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
