package queue

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/atomicfile"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Pending is the durable set of discovered, not yet completed projects.
type Pending struct {
	mu      sync.Mutex
	path    string
	done    bid.Completed
	clock   bid.Clock
	logger  *zap.Logger
	entries map[bid.Identifier]bid.PendingEntry
}

// Open loads the queue stored at path. A missing file is an empty queue. A
// file that cannot be read or decoded is moved aside and the queue starts
// empty.
func Open(path string, done bid.Completed, clock bid.Clock, logger *zap.Logger) (*Pending, error) {
	if path == "" {
		return nil, fmt.Errorf("pending queue path is required")
	}
	if done == nil {
		return nil, fmt.Errorf("completion index is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Pending{
		path:    path,
		done:    done,
		clock:   clock,
		logger:  logger.Named("queue"),
		entries: make(map[bid.Identifier]bid.PendingEntry),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Pending) load() error {
	// #nosec G304 -- queue path comes from operator configuration.
	raw, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		q.quarantine("pending queue unreadable, starting empty", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	var stored map[string]bid.PendingEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		q.quarantine("pending queue corrupt, starting empty", err)
		return nil
	}
	for key, entry := range stored {
		id := bid.Identifier(key)
		if !id.Valid() {
			q.logger.Warn("dropping pending entry with empty identifier")
			continue
		}
		entry.Identifier = id
		q.entries[id] = entry
	}
	q.logger.Debug("pending queue loaded", zap.Int("entries", len(q.entries)))
	return nil
}

// quarantine moves a queue file that cannot be used aside for inspection. The
// projects it listed are rediscovered on the next discovery pass.
func (q *Pending) quarantine(msg string, cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", q.path, q.clock.Now().Unix())
	fields := []zap.Field{zap.String("path", q.path), zap.Error(cause)}
	if err := os.Rename(q.path, aside); err != nil {
		q.logger.Warn(msg, append(fields, zap.NamedError("rename_error", err))...)
		return
	}
	q.logger.Warn(msg, append(fields, zap.String("moved_to", aside))...)
}

// DiscoverAndEnqueue adds every candidate that is neither completed nor
// already pending and returns how many were added. The additions are durable
// when it returns. Entries added by one call keep their discovery order.
func (q *Pending) DiscoverAndEnqueue(candidates []bid.Candidate) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	var added []bid.Identifier
	for _, c := range candidates {
		if !c.ID.Valid() {
			q.logger.Warn("ignoring candidate without identifier", zap.String("name", c.Name))
			continue
		}
		if q.done.Contains(c.ID) {
			continue
		}
		if _, ok := q.entries[c.ID]; ok {
			continue
		}
		q.entries[c.ID] = bid.PendingEntry{
			Identifier:   c.ID,
			DiscoveredAt: now.Add(time.Duration(len(added))),
			Hints:        c.Hints(),
		}
		added = append(added, c.ID)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := q.persist(); err != nil {
		for _, id := range added {
			delete(q.entries, id)
		}
		return 0, err
	}
	q.logger.Info("projects enqueued", zap.Int("added", len(added)), zap.Int("pending", len(q.entries)))
	return len(added), nil
}

// NextUnprocessed returns the oldest pending entry for which skip returns
// false. The entry stays queued until MarkComplete.
func (q *Pending) NextUnprocessed(skip func(bid.Identifier) bool) (bid.PendingEntry, bool) {
	for _, e := range q.Entries() {
		if skip != nil && skip(e.Identifier) {
			continue
		}
		return e, true
	}
	return bid.PendingEntry{}, false
}

// MarkComplete durably removes id. Callers must append the ledger record
// first. Removing an identifier that is not queued is a no-op.
func (q *Pending) MarkComplete(id bid.Identifier) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok {
		return nil
	}
	delete(q.entries, id)
	if err := q.persist(); err != nil {
		q.entries[id] = entry
		return err
	}
	return nil
}

// Reconcile removes every pending identifier that done already records, which
// heals a crash between the ledger append and the dequeue. It returns the
// removed identifiers in sorted order.
func (q *Pending) Reconcile(done bid.Completed) ([]bid.Identifier, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := make(map[bid.Identifier]bid.PendingEntry)
	for id, e := range q.entries {
		if done.Contains(id) {
			removed[id] = e
			delete(q.entries, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := q.persist(); err != nil {
		for id, e := range removed {
			q.entries[id] = e
		}
		return nil, err
	}

	ids := make([]bid.Identifier, 0, len(removed))
	for id := range removed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		q.logger.Info("dequeued already completed project", zap.String("identifier", id.String()))
	}
	return ids, nil
}

// Entries returns a snapshot of the queue, oldest first.
func (q *Pending) Entries() []bid.PendingEntry {
	q.mu.Lock()
	out := make([]bid.PendingEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b bid.PendingEntry) int {
		if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Identifier, b.Identifier)
	})
	return out
}

// Len returns the number of pending entries.
func (q *Pending) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Contains reports whether id is pending.
func (q *Pending) Contains(id bid.Identifier) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[id]
	return ok
}

// Path returns the queue file location.
func (q *Pending) Path() string {
	return q.path
}

// persist must be called with q.mu held.
func (q *Pending) persist() error {
	doc := make(map[string]bid.PendingEntry, len(q.entries))
	for id, e := range q.entries {
		doc[id.String()] = e
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return bid.Storage("encode pending queue", q.path, err)
	}
	if err := atomicfile.WriteFile(q.path, append(data, '\n'), 0o600); err != nil {
		return bid.Storage("write pending queue", q.path, err)
	}
	return nil
}
