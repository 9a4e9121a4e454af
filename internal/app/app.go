// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/api"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/clock/system"
	"github.com/JakeFAU/bidboard-harvester/internal/config"
	"github.com/JakeFAU/bidboard-harvester/internal/discovery"
	"github.com/JakeFAU/bidboard-harvester/internal/export"
	exportgcs "github.com/JakeFAU/bidboard-harvester/internal/export/gcs"
	exportpostgres "github.com/JakeFAU/bidboard-harvester/internal/export/postgres"
	exportpubsub "github.com/JakeFAU/bidboard-harvester/internal/export/pubsub"
	"github.com/JakeFAU/bidboard-harvester/internal/gate"
	"github.com/JakeFAU/bidboard-harvester/internal/hash/sha256"
	"github.com/JakeFAU/bidboard-harvester/internal/id/uuid"
	"github.com/JakeFAU/bidboard-harvester/internal/ledger"
	"github.com/JakeFAU/bidboard-harvester/internal/lock"
	"github.com/JakeFAU/bidboard-harvester/internal/metrics"
	"github.com/JakeFAU/bidboard-harvester/internal/portal"
	"github.com/JakeFAU/bidboard-harvester/internal/progress"
	"github.com/JakeFAU/bidboard-harvester/internal/progress/sinks"
	"github.com/JakeFAU/bidboard-harvester/internal/queue"
	"github.com/JakeFAU/bidboard-harvester/internal/storage"
	"github.com/JakeFAU/bidboard-harvester/internal/storage/gcs"
	"github.com/JakeFAU/bidboard-harvester/internal/storage/local"
	"github.com/JakeFAU/bidboard-harvester/internal/workflow"
)

// Options select how much of the container a command needs.
type Options struct {
	// Exclusive takes the data directory lock before opening any state.
	Exclusive bool
	// SkipExporters leaves the export fanout empty.
	SkipExporters bool
	// Clock overrides the system clock.
	Clock bid.Clock
}

// App holds the shared, long-lived services of one CLI invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	clock  bid.Clock

	lock      *lock.Lock
	ledger    *ledger.Ledger
	pending   *queue.Pending
	allocator *storage.Allocator
	writer    *local.SlotWriter
	exporter  *export.Fanout
	gcsClient *gcstorage.Client
	events    *progress.Hub
	healed    []bid.Identifier

	sessionOnce sync.Once
	session     *portal.Session
	sessionErr  error

	serverCancel context.CancelFunc
	serverDone   chan error
}

// New opens the local stores and builds the configured exporters. It fails
// fast when any of them cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:   cfg,
		runID: uuid.New().MustRunID(),
		clock: opts.Clock,
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	a.logger = logger.With(zap.String("run_id", a.runID))
	if err := a.open(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	metrics.SetPending(a.pending.Len())
	metrics.SetLastSequence(a.ledger.MaxAllocatedSequence())
	a.logger.Debug("application services initialized",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Int("pending", a.pending.Len()),
		zap.Int("completed", a.ledger.Len()),
		zap.Strings("exporters", a.exporter.Names()),
	)
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	cfg := a.cfg
	var err error
	if opts.Exclusive {
		if a.lock, err = lock.Acquire(cfg.Storage.DataDir); err != nil {
			return err
		}
	}

	a.ledger, err = ledger.Open(ledger.Config{
		Path:          cfg.Storage.LedgerPath(),
		StoreDir:      cfg.Storage.StorePath(),
		MaxNameLength: cfg.Storage.MaxNameLength,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.pending, err = queue.Open(cfg.Storage.PendingPath(), a.ledger, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("open pending queue: %w", err)
	}
	a.allocator, err = storage.NewAllocator(storage.Config{
		StoreDir:      cfg.Storage.StorePath(),
		JournalPath:   cfg.Storage.JournalPath(),
		MaxNameLength: cfg.Storage.MaxNameLength,
	}, a.ledger, a.logger)
	if err != nil {
		return fmt.Errorf("open allocator: %w", err)
	}
	a.writer, err = local.New(local.Config{BaseDir: cfg.Storage.StorePath()})
	if err != nil {
		return fmt.Errorf("open slot writer: %w", err)
	}
	if opts.Exclusive {
		// A crash between the ledger append and the dequeue leaves finished
		// projects queued; drop them before anything reads the queue.
		healed, rerr := a.pending.Reconcile(a.ledger)
		if rerr != nil {
			a.logger.Warn("could not reconcile pending queue with the ledger", zap.Error(rerr))
		}
		a.healed = healed
	}

	eventSinks := []progress.Sink{sinks.NewLogSink(a.logger.Named("events"))}
	if path := cfg.Storage.EventsPath(); path != "" {
		fileSink, err := sinks.NewFileSink(path)
		if err != nil {
			return err
		}
		eventSinks = append(eventSinks, fileSink)
	}
	a.events = progress.NewHub(progress.Config{Logger: a.logger}, eventSinks...)

	var exporters []export.Exporter
	if !opts.SkipExporters {
		exporters, err = a.buildExporters(ctx)
	}
	// Built exporters are closed by Close even when a later one failed.
	a.exporter = export.NewFanout(a.logger, exporters...)
	return err
}

func (a *App) buildExporters(ctx context.Context) ([]export.Exporter, error) {
	var out []export.Exporter
	ec := a.cfg.Export
	if ec.Postgres.Enabled {
		a.logger.Info("connecting to postgres export")
		pg, err := exportpostgres.New(ctx, exportpostgres.Config{
			DSN:          ec.Postgres.DSN,
			Table:        ec.Postgres.Table,
			EnsureSchema: ec.Postgres.EnsureSchema,
		})
		if err != nil {
			return out, fmt.Errorf("init postgres export: %w", err)
		}
		out = append(out, pg)
	}
	if ec.GCS.Enabled {
		a.logger.Info("using gcs export", zap.String("bucket", ec.GCS.Bucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return out, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: ec.GCS.Bucket, Prefix: ec.GCS.Prefix})
		if err != nil {
			return out, fmt.Errorf("init gcs export: %w", err)
		}
		exp, err := exportgcs.New(store)
		if err != nil {
			return out, fmt.Errorf("init gcs export: %w", err)
		}
		out = append(out, exp)
	}
	if ec.PubSub.Enabled {
		a.logger.Info("connecting to pubsub export", zap.String("topic", ec.PubSub.TopicID))
		pub, err := exportpubsub.New(ctx, ec.PubSub.ProjectID, ec.PubSub.TopicID)
		if err != nil {
			return out, fmt.Errorf("init pubsub export: %w", err)
		}
		out = append(out, pub)
	}
	return out, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this invocation in logs and staging paths.
func (a *App) RunID() string { return a.runID }

// Ledger returns the completion ledger.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Pending returns the pending queue.
func (a *App) Pending() *queue.Pending { return a.pending }

// Healed returns the identifiers dropped from the queue at open because the
// ledger already records them. Only exclusive opens reconcile.
func (a *App) Healed() []bid.Identifier { return a.healed }

// Allocator returns the storage allocator.
func (a *App) Allocator() *storage.Allocator { return a.allocator }

// Events returns the run event hub.
func (a *App) Events() *progress.Hub { return a.events }

// Exporter returns the export fanout.
func (a *App) Exporter() *export.Fanout { return a.exporter }

// Session returns the shared portal session, creating it on first use.
func (a *App) Session() (*portal.Session, error) {
	a.sessionOnce.Do(func() {
		if err := a.cfg.RequireCredentials(); err != nil {
			a.sessionErr = err
			return
		}
		a.session, a.sessionErr = portal.NewSession(a.cfg.PortalSettings(), a.logger)
	})
	return a.session, a.sessionErr
}

// DiscoverySource builds the configured discovery source.
func (a *App) DiscoverySource() (bid.DiscoverySource, error) {
	d := a.cfg.Discovery
	switch d.Source {
	case "listing":
		return discovery.New(discovery.Config{
			URL:         d.ListingURL,
			UserAgent:   a.cfg.Portal.UserAgent,
			Timeout:     a.cfg.Portal.NavigationTimeout,
			MaxPages:    a.cfg.Portal.MaxPages,
			SkipPastDue: d.SkipPastDue,
			QPS:         a.cfg.Portal.NavQPS,
		}, a.clock, a.logger)
	case "", "portal":
		session, err := a.Session()
		if err != nil {
			return nil, err
		}
		return portal.NewDiscovery(session, a.clock, d.SkipPastDue, a.logger)
	default:
		return nil, fmt.Errorf("unknown discovery source %q", d.Source)
	}
}

// Discover runs one discovery pass into the pending queue.
func (a *App) Discover(ctx context.Context) (workflow.DiscoveryResult, error) {
	src, err := a.DiscoverySource()
	if err != nil {
		return workflow.DiscoveryResult{}, err
	}
	start := time.Now()
	res, err := workflow.Discover(ctx, src, a.pending, a.logger)
	evt := progress.Event{
		RunID: a.runID,
		TS:    a.clock.Now().UTC(),
		Stage: progress.StageDiscovery,
		Count: res.Enqueued,
		Dur:   time.Since(start),
	}
	if err != nil {
		evt.Note = err.Error()
	}
	a.events.Emit(evt)
	return res, err
}

// WorkflowOptions are per-command overrides of the workflow section.
type WorkflowOptions struct {
	PreferredID bid.Identifier
	// MaxProjects overrides the configured limit when positive.
	MaxProjects int
	// AssumeYes answers every confirmation prompt with yes.
	AssumeYes bool
	In        *os.File
	Out       io.Writer
}

// Workflow assembles the processing loop over the portal.
func (a *App) Workflow(opts WorkflowOptions) (*workflow.Workflow, error) {
	session, err := a.Session()
	if err != nil {
		return nil, err
	}
	extractor, err := portal.NewExtractor(session, a.logger)
	if err != nil {
		return nil, err
	}
	fetcher, err := portal.NewFetcher(session, a.logger)
	if err != nil {
		return nil, err
	}
	return a.WorkflowWith(extractor, fetcher, opts)
}

// WorkflowWith assembles the processing loop over the given extractor and
// fetcher.
func (a *App) WorkflowWith(extractor bid.MetadataExtractor, fetcher bid.DocumentFetcher, opts WorkflowOptions) (*workflow.Workflow, error) {
	wc := a.cfg.Workflow
	mode, err := gate.ParseMode(wc.Confirm)
	if err != nil {
		return nil, err
	}
	// Only a prompting gate on a real terminal can hold the run at a storage
	// failure; every other run stops there.
	var confirm bid.ConfirmationGate
	attended := false
	switch {
	case opts.AssumeYes:
		confirm = gate.Auto{Answer: true}
	case opts.In != nil:
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		term := gate.NewTerminal(opts.In, out, gate.Config{Mode: mode, DefaultAnswer: wc.DefaultAnswer}, a.logger)
		attended = term.Attended()
		confirm = term
	default:
		confirm = gate.Auto{Answer: wc.DefaultAnswer}
	}

	maxProjects := wc.MaxProjects
	if opts.MaxProjects > 0 {
		maxProjects = opts.MaxProjects
	}
	return workflow.New(workflow.Deps{
		Queue:     a.pending,
		Ledger:    a.ledger,
		Allocator: a.allocator,
		Writer:    a.writer,
		Extractor: extractor,
		Fetcher:   fetcher,
		Gate:      confirm,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		Exporter:  a.exporter,
		Retry:     workflow.NewExponentialRetryPolicy().WithMaxAttempts(wc.RetryAttempts),
		Events:    a.events,
	}, workflow.Config{
		RunID:              a.runID,
		StagingDir:         a.cfg.Storage.StagingPath(),
		MetadataFilename:   a.cfg.Storage.MetadataFilename,
		MaxProjects:        maxProjects,
		PreferredID:        opts.PreferredID,
		StopOnStorageError: wc.StopOnStorageError || !attended,
	}, a.logger)
}

// StartStatusServer serves the status API in the background when an address
// is configured. It stops on Close.
func (a *App) StartStatusServer(ctx context.Context) {
	if a.cfg.API.ListenAddr == "" || a.serverCancel != nil {
		return
	}
	srv := api.NewServer(a.pending, a.ledger, api.Config{
		ListenAddr: a.cfg.API.ListenAddr,
		APIKey:     a.cfg.API.APIKey,
	}, a.logger)
	ctx, cancel := context.WithCancel(ctx)
	a.serverCancel = cancel
	a.serverDone = make(chan error, 1)
	go func() {
		a.serverDone <- srv.ListenAndServe(ctx)
	}()
}

// Close gracefully shuts down every service in the container. It is called
// by a cobra hook after the command finishes.
func (a *App) Close() {
	if a == nil {
		return
	}
	var errs []error
	if a.serverCancel != nil {
		a.serverCancel()
		if err := <-a.serverDone; err != nil {
			errs = append(errs, err)
		}
		a.serverCancel = nil
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.events != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.events.Close(closeCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.exporter != nil {
		if err := a.exporter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.cfg.Storage.StagingDir != "" {
		staging := filepath.Join(a.cfg.Storage.StagingPath(), a.runID)
		if err := os.RemoveAll(staging); err != nil {
			errs = append(errs, fmt.Errorf("remove staging dir: %w", err))
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error shutting down application services", zap.Error(err))
	}
	// Flushing stderr/stdout sinks fails on some platforms; nothing to do about it.
	_ = a.logger.Sync()
}
