package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/metrics"
	"github.com/JakeFAU/bidboard-harvester/internal/naming"
	"github.com/JakeFAU/bidboard-harvester/internal/progress"
)

// DefaultMetadataFilename is the summary file written into every slot.
const DefaultMetadataFilename = "data_project.txt"

// Queue is the pending queue as the workflow uses it.
type Queue interface {
	NextUnprocessed(skip func(bid.Identifier) bool) (bid.PendingEntry, bool)
	MarkComplete(id bid.Identifier) error
	Reconcile(done bid.Completed) ([]bid.Identifier, error)
	Entries() []bid.PendingEntry
	Len() int
}

// Ledger is the completion ledger as the workflow uses it.
type Ledger interface {
	Contains(id bid.Identifier) bool
	Append(rec bid.CompletionRecord) error
	MaxAllocatedSequence() int
}

// Allocator hands out storage slots.
type Allocator interface {
	Allocate(id bid.Identifier, projectName string) (bid.StorageSlot, error)
	Prune(done bid.Completed) (int, error)
}

// SlotWriter places files inside a slot.
type SlotWriter interface {
	WriteFile(slot bid.StorageSlot, name string, data io.Reader) (string, error)
	MoveIn(slot bid.StorageSlot, src string) (string, error)
}

// Hasher checksums archives.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Exporter mirrors a completed project somewhere else. Failures are logged
// and never affect the ledger or the queue.
type Exporter interface {
	Export(ctx context.Context, c bid.Completion) error
}

// Deps are the collaborators of a Workflow.
type Deps struct {
	Queue     Queue
	Ledger    Ledger
	Allocator Allocator
	Writer    SlotWriter
	Extractor bid.MetadataExtractor
	Fetcher   bid.DocumentFetcher
	Gate      bid.ConfirmationGate
	Hasher    Hasher
	Clock     bid.Clock
	Exporter  Exporter
	Retry     RetryPolicy
	// Events receives run milestones. Nil disables them.
	Events progress.Emitter
}

// Config controls Workflow behavior.
type Config struct {
	// RunID tags log lines and names the staging directory of this run.
	RunID string
	// StagingDir receives downloads before a slot is allocated.
	StagingDir string
	// MetadataFilename is the summary file written into each slot.
	MetadataFilename string
	// MaxProjects stops the run after that many projects; zero means no limit.
	MaxProjects int
	// PreferredID is processed first when it is pending.
	PreferredID bid.Identifier
	// StopOnStorageError ends the run at the first storage failure. Set it
	// when nobody is watching the confirmation gate.
	StopOnStorageError bool
}

// Workflow processes pending projects sequentially.
type Workflow struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(time.Duration)
}

// New constructs a Workflow.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Workflow, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("pending queue is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Allocator == nil:
		return nil, errors.New("allocator is required")
	case deps.Writer == nil:
		return nil, errors.New("slot writer is required")
	case deps.Extractor == nil:
		return nil, errors.New("metadata extractor is required")
	case deps.Fetcher == nil:
		return nil, errors.New("document fetcher is required")
	case deps.Gate == nil:
		return nil, errors.New("confirmation gate is required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if strings.TrimSpace(cfg.StagingDir) == "" {
		return nil, errors.New("staging directory is required")
	}
	if deps.Retry == nil {
		deps.Retry = noRetry{}
	}
	if cfg.MetadataFilename == "" {
		cfg.MetadataFilename = DefaultMetadataFilename
	}
	if cfg.RunID == "" {
		cfg.RunID = "run"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("workflow").With(zap.String("run_id", cfg.RunID)),
		sleep:  time.Sleep,
	}, nil
}

// Run reconciles the queue against the ledger and then processes pending
// projects until the queue is exhausted, the project limit is hit, or a stop
// is requested at the gate. Canceling ctx is treated as a stop request: the
// project in flight always finishes first.
func (w *Workflow) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: w.cfg.RunID}

	healed, err := w.deps.Queue.Reconcile(w.deps.Ledger)
	if err != nil {
		return summary, fmt.Errorf("reconcile pending queue: %w", err)
	}
	summary.Reconciled = healed
	if pruned, err := w.deps.Allocator.Prune(w.deps.Ledger); err != nil {
		w.logger.Warn("could not prune allocation journal", zap.Error(err))
	} else if pruned > 0 {
		w.logger.Debug("pruned completed reservations", zap.Int("count", pruned))
	}
	metrics.SetPending(w.deps.Queue.Len())
	metrics.SetLastSequence(w.deps.Ledger.MaxAllocatedSequence())
	w.emit(progress.Event{Stage: progress.StageRunStart, Count: w.deps.Queue.Len()})

	skip := make(map[bid.Identifier]bool)
	preferred := w.cfg.PreferredID
	processed := 0
	var runErr error

	for {
		if ctx.Err() != nil {
			summary.StopReason = StopInterrupted
			break
		}
		if w.cfg.MaxProjects > 0 && processed >= w.cfg.MaxProjects {
			summary.StopReason = StopLimitReached
			break
		}

		entry, ok := w.next(&preferred, skip)
		if !ok {
			summary.StopReason = StopQueueDrained
			break
		}

		res := w.process(context.WithoutCancel(ctx), entry)
		summary.Results = append(summary.Results, res)
		metrics.ObserveProject(string(res.Outcome))
		metrics.SetPending(w.deps.Queue.Len())
		if res.Outcome == OutcomeAlreadyCompleted {
			continue
		}
		processed++
		if res.Err != nil {
			skip[entry.Identifier] = true
		}

		if res.Outcome == OutcomeStorageFailed && w.cfg.StopOnStorageError {
			summary.StopReason = StopStorageFailure
			runErr = res.Err
			break
		}

		remaining := w.remaining(skip)
		if remaining == 0 {
			summary.StopReason = StopQueueDrained
			break
		}
		if w.cfg.MaxProjects > 0 && processed >= w.cfg.MaxProjects {
			summary.StopReason = StopLimitReached
			break
		}

		cont, err := w.deps.Gate.Confirm(ctx, bid.Prompt{
			Last:      entry.Identifier,
			Succeeded: res.Err == nil,
			Err:       res.Err,
			Remaining: remaining,
		})
		if err != nil {
			w.logger.Info("confirmation gate ended the run", zap.Error(err))
			summary.StopReason = StopInterrupted
			break
		}
		if !cont {
			summary.StopReason = StopOperator
			break
		}
	}

	summary.Remaining = w.deps.Queue.Len()
	w.emit(progress.Event{
		Stage: progress.StageRunDone,
		Count: summary.Completed(),
		Note:  string(summary.StopReason),
	})
	w.logger.Info("run finished",
		zap.Int("completed", summary.Completed()),
		zap.Int("failed", summary.Failed()),
		zap.Int("remaining", summary.Remaining),
		zap.String("stop_reason", string(summary.StopReason)))
	return summary, runErr
}

// next picks the preferred identifier once, then falls back to queue order.
func (w *Workflow) next(preferred *bid.Identifier, skip map[bid.Identifier]bool) (bid.PendingEntry, bool) {
	if id := *preferred; id != "" {
		*preferred = ""
		for _, e := range w.deps.Queue.Entries() {
			if e.Identifier == id && !skip[id] {
				return e, true
			}
		}
		w.logger.Warn("preferred project is not pending", zap.String("identifier", id.String()))
	}
	return w.deps.Queue.NextUnprocessed(func(id bid.Identifier) bool { return skip[id] })
}

func (w *Workflow) remaining(skip map[bid.Identifier]bool) int {
	n := 0
	for _, e := range w.deps.Queue.Entries() {
		if !skip[e.Identifier] {
			n++
		}
	}
	return n
}

// process runs one project through every stage. ctx is never canceled by a
// stop request.
func (w *Workflow) process(ctx context.Context, entry bid.PendingEntry) Result {
	id := entry.Identifier
	log := w.logger.With(zap.String("identifier", id.String()))
	started := time.Now()

	if w.deps.Ledger.Contains(id) {
		if err := w.deps.Queue.MarkComplete(id); err != nil {
			return w.fail(log, id, bid.StageDequeued, bid.Storage("dequeue", "", err))
		}
		log.Info("project already recorded, removed from queue")
		return Result{ID: id, Outcome: OutcomeAlreadyCompleted, Stage: bid.StageDequeued}
	}
	log.Info("processing project",
		zap.String("stage", string(bid.StageDiscovered)),
		zap.String("name", entry.Hint(bid.HintName)))
	w.emit(progress.Event{Stage: progress.StageProjectStart, Identifier: id})

	var meta bid.Metadata
	err := w.timed(bid.StageMetadataExtracted, func() error {
		var err error
		meta, err = w.deps.Extractor.Extract(ctx, entry)
		return err
	})
	if err != nil {
		return w.fail(log, id, bid.StageMetadataExtracted, bid.Transient(bid.StageMetadataExtracted, id, err))
	}
	meta = meta.Normalized()
	name := projectName(entry, meta)

	staging := filepath.Join(w.cfg.StagingDir, w.cfg.RunID, naming.Slug(id.String(), 0))
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Warn("could not remove staging directory", zap.String("path", staging), zap.Error(err))
		}
	}()

	var downloaded string
	err = w.timed(bid.StageDocumentsDownloaded, func() error {
		var err error
		downloaded, err = w.fetch(ctx, entry, staging, log)
		return err
	})
	if err != nil {
		return w.fail(log, id, bid.StageDocumentsDownloaded, err)
	}

	var slot bid.StorageSlot
	var archive, sha string
	err = w.timed(bid.StageSlotAllocated, func() error {
		var err error
		if slot, err = w.deps.Allocator.Allocate(id, name); err != nil {
			return bid.Storage("allocate slot", "", err)
		}
		if archive, err = w.deps.Writer.MoveIn(slot, downloaded); err != nil {
			return bid.Storage("store archive", slot.Path, err)
		}
		if sha, err = w.deps.Hasher.HashFile(archive); err != nil {
			return bid.Storage("hash archive", archive, err)
		}
		return nil
	})
	if err != nil {
		return w.fail(log, id, bid.StageSlotAllocated, err)
	}
	log = log.With(zap.Int("sequence", slot.Sequence), zap.String("folder", slot.FolderName))

	completedAt := w.deps.Clock.Now().UTC()
	summaryFile := bid.SummaryFile{
		Entry:         entry,
		Metadata:      meta,
		Slot:          slot,
		ArchiveName:   filepath.Base(archive),
		ArchiveSHA256: sha,
		CompletedAt:   completedAt,
	}
	summaryPath, err := w.deps.Writer.WriteFile(slot, w.cfg.MetadataFilename, strings.NewReader(summaryFile.Render()))
	if err != nil {
		return w.fail(log, id, bid.StageSlotAllocated, bid.Storage("write summary", slot.Path, err))
	}

	rec := bid.NewCompletionRecord(id, slot, meta, completedAt)
	err = w.timed(bid.StageLedgerAppended, func() error {
		return w.deps.Ledger.Append(rec)
	})
	if err != nil && !errors.Is(err, bid.ErrAlreadyRecorded) {
		return w.fail(log, id, bid.StageLedgerAppended, bid.Storage("append ledger", "", err))
	}
	metrics.SetLastSequence(w.deps.Ledger.MaxAllocatedSequence())

	if err := w.deps.Queue.MarkComplete(id); err != nil {
		// The ledger already holds the record; the next startup reconcile
		// removes the stale queue entry.
		return w.fail(log, id, bid.StageDequeued, bid.Storage("dequeue", "", err))
	}
	log.Info("project completed", zap.String("archive", filepath.Base(archive)))
	w.emit(progress.Event{
		Stage:      progress.StageProjectDone,
		Identifier: id,
		Sequence:   slot.Sequence,
		Folder:     slot.FolderName,
		Dur:        time.Since(started),
	})

	w.export(ctx, log, bid.Completion{
		Record:        rec,
		Entry:         entry,
		Metadata:      meta,
		ArchivePath:   archive,
		ArchiveSHA256: sha,
		SummaryPath:   summaryPath,
	})
	return Result{ID: id, Outcome: OutcomeCompleted, Stage: bid.StageDequeued, Slot: slot}
}

// fetch downloads into a fresh staging directory, retrying once when the
// policy allows it.
func (w *Workflow) fetch(ctx context.Context, entry bid.PendingEntry, dir string, log *zap.Logger) (string, error) {
	id := entry.Identifier
	for attempt := 1; ; attempt++ {
		if err := resetDir(dir); err != nil {
			return "", bid.Storage("prepare staging", dir, err)
		}
		path, err := w.deps.Fetcher.Fetch(ctx, entry, dir)
		if err == nil {
			info, statErr := os.Stat(path)
			if statErr == nil && info.Mode().IsRegular() {
				return path, nil
			}
			err = fmt.Errorf("fetcher reported %q but no file is there", path)
		}
		if !w.deps.Retry.ShouldRetry(err, attempt) {
			return "", bid.Transient(bid.StageDocumentsDownloaded, id, err)
		}
		delay := w.deps.Retry.Backoff(attempt)
		log.Warn("document download failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		w.sleep(delay)
	}
}

func (w *Workflow) export(ctx context.Context, log *zap.Logger, c bid.Completion) {
	if w.deps.Exporter == nil {
		return
	}
	if err := w.deps.Exporter.Export(ctx, c); err != nil {
		log.Warn("export failed", zap.Error(err))
	}
}

func (w *Workflow) fail(log *zap.Logger, id bid.Identifier, stage bid.Stage, err error) Result {
	outcome := OutcomeFailed
	if bid.IsStorage(err) {
		outcome = OutcomeStorageFailed
		log.Error("project failed", zap.String("stage", string(stage)), zap.Error(err))
	} else {
		log.Warn("project failed, left pending", zap.String("stage", string(stage)), zap.Error(err))
	}
	w.emit(progress.Event{Stage: progress.StageProjectError, Identifier: id, Step: stage, Note: err.Error()})
	return Result{ID: id, Outcome: outcome, Stage: stage, Err: err}
}

func (w *Workflow) emit(evt progress.Event) {
	if w.deps.Events == nil {
		return
	}
	evt.RunID = w.cfg.RunID
	evt.TS = w.deps.Clock.Now().UTC()
	w.deps.Events.Emit(evt)
}

func (w *Workflow) timed(stage bid.Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObserveStage(string(stage), time.Since(start), err)
	return err
}

// projectName prefers the extracted name and falls back to the name seen at
// discovery.
func projectName(entry bid.PendingEntry, meta bid.Metadata) string {
	if meta.Name != "" && meta.Name != bid.Sentinel {
		return meta.Name
	}
	if hint := entry.Hint(bid.HintName); hint != "" {
		return hint
	}
	return entry.Identifier.String()
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
