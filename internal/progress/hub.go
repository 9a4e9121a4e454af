package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values select the defaults.
type Config struct {
	// BufferSize bounds the events waiting for the writer goroutine.
	BufferSize int
	// MaxBatch bounds how many events a single sink call receives.
	MaxBatch int
	// SinkTimeout bounds each sink call, including Close.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 256
	defaultMaxBatch    = 64
	defaultSinkTimeout = 5 * time.Second
	dropWarnInterval   = 5 * time.Second
)

// Stats counts what became of the events handed to Emit.
type Stats struct {
	// Accepted events were queued for the sinks.
	Accepted int64
	// Rejected events failed validation.
	Rejected int64
	// Dropped events found the buffer full.
	Dropped int64
	// Delivered events were passed to the sinks, whatever the sinks did with them.
	Delivered int64
	// SinkErrors counts failed sink calls.
	SinkErrors int64
}

// Hub is the run event log. A single writer goroutine drains whatever has
// queued up and hands it to every sink in order, so sinks see events in the
// order they were emitted. Emit never waits for the sinks.
type Hub struct {
	cfg      Config
	sinks    []Sink
	queue    chan Event
	done     chan struct{}
	logger   *zap.Logger
	dropWarn rate.Sometimes

	// mu orders Emit against closing the queue.
	mu     sync.RWMutex
	closed bool

	accepted   atomic.Int64
	rejected   atomic.Int64
	dropped    atomic.Int64
	delivered  atomic.Int64
	sinkErrors atomic.Int64
}

// NewHub starts the writer goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		queue:    make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
		logger:   logger,
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.write()
	return h
}

// Emit queues evt for the sinks. Invalid events and events emitted after
// Close are discarded. A full buffer drops the event.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.rejected.Add(1)
		h.logger.Debug("discarding invalid run event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- evt:
		h.accepted.Add(1)
	default:
		h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("run event log is falling behind, events dropped",
				zap.Int64("dropped_total", h.dropped.Load()))
		})
	}
}

// Close stops accepting events, waits until everything queued reached the
// sinks and closes them. It returns early if ctx ends first; the writer keeps
// draining in the background. Close may be called more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close run event log: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:   h.accepted.Load(),
		Rejected:   h.rejected.Load(),
		Dropped:    h.dropped.Load(),
		Delivered:  h.delivered.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Len reports the number of sinks.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	return len(h.sinks)
}

func (h *Hub) write() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatch)
	for evt := range h.queue {
		batch = h.fill(append(batch[:0], evt))
		h.deliver(batch)
	}
	h.closeSinks()

	s := h.Stats()
	h.logger.Debug("run event log closed",
		zap.Int64("delivered", s.Delivered),
		zap.Int64("dropped", s.Dropped),
		zap.Int64("rejected", s.Rejected),
		zap.Int64("sink_errors", s.SinkErrors))
}

// fill adds whatever is already queued, up to MaxBatch, without waiting.
func (h *Hub) fill(batch []Event) []Event {
	for len(batch) < h.cfg.MaxBatch {
		select {
		case evt, ok := <-h.queue:
			if !ok {
				return batch
			}
			batch = append(batch, evt)
		default:
			return batch
		}
	}
	return batch
}

// deliver hands batch to every sink. Sinks must not keep batch after
// Consume returns; the slice is reused.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.sinkErrors.Add(1)
			h.logger.Warn("run event sink failed",
				zap.Int("events", len(batch)),
				zap.String("first_stage", string(batch[0].Stage)),
				zap.Error(err))
		}
		cancel()
	}
	h.delivered.Add(int64(len(batch)))
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("run event sink close failed", zap.Error(err))
		}
		cancel()
	}
}
