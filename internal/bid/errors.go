package bid

import (
	"errors"
	"fmt"
)

// Stage names a transition of the per-project state machine.
type Stage string

// Workflow stages in execution order.
const (
	StageDiscovered          Stage = "discovered"
	StageMetadataExtracted   Stage = "metadata_extracted"
	StageDocumentsDownloaded Stage = "documents_downloaded"
	StageSlotAllocated       Stage = "slot_allocated"
	StageLedgerAppended      Stage = "ledger_appended"
	StageDequeued            Stage = "dequeued"
)

var (
	// ErrInvariantViolation marks ledger/queue disagreements found during
	// reconciliation. It is logged, never returned from a run.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrDownloadCanceled reports that the portal canceled the archive download.
	ErrDownloadCanceled = errors.New("download canceled")
	// ErrAlreadyRecorded is returned when the ledger already holds an identifier.
	ErrAlreadyRecorded = errors.New("identifier already recorded")
)

// TransientError wraps an extraction or download failure. The identifier stays
// pending and no ledger write occurs.
type TransientError struct {
	Stage Stage
	ID    Identifier
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.ID, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StorageError wraps a filesystem or persistence failure that is fatal for the
// current identifier.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the given stage.
func Transient(stage Stage, id Identifier, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Stage: stage, ID: id, Err: err}
}

// Storage wraps err as a StorageError unless it already is one.
func Storage(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// IsTransient reports whether err is a collaborator failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
