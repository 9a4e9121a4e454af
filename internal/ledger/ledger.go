// Package ledger implements the append-only completion ledger: the
// authoritative record of which projects are finished and which storage slot
// each one occupies.
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/atomicfile"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/naming"
)

// Header is the first row of every ledger file.
var Header = []string{
	"sequence_number", "identifier", "name", "date", "location",
	"client", "phone", "completed_at", "folder",
}

// legacyColumns is the column count of rows written without the folder column.
const legacyColumns = 8

// Config locates the ledger file and the directory its slots live under.
type Config struct {
	Path          string
	StoreDir      string
	MaxNameLength int
}

// Ledger is the in-memory index of the ledger file. It is loaded once and kept
// in sync by Append.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	byID   map[bid.Identifier]bid.CompletionRecord
	bySeq  map[int]bid.Identifier
	order  []bid.Identifier
	maxSeq int
}

// Open loads the ledger at cfg.Path. A missing file is an empty ledger. An
// unreadable file is logged and treated as empty; later appends still target
// the same path.
func Open(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		cfg:    cfg,
		logger: logger.Named("ledger"),
		byID:   make(map[bid.Identifier]bid.CompletionRecord),
		bySeq:  make(map[int]bid.Identifier),
	}

	f, err := os.Open(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		l.logger.Warn("ledger unreadable, treating as empty", zap.String("path", cfg.Path), zap.Error(err))
		return l, nil
	}
	defer f.Close()

	l.load(f)
	l.logger.Debug("ledger loaded", zap.Int("records", len(l.order)), zap.Int("max_sequence", l.maxSeq))
	return l, nil
}

func (l *Ledger) load(r io.Reader) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for row := 0; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				l.logger.Warn("skipping unparsable ledger row", zap.Int("line", parseErr.Line), zap.Error(err))
				continue
			}
			l.logger.Warn("ledger read stopped early", zap.Error(err))
			return
		}
		if row == 0 && isHeader(fields) {
			continue
		}
		line, _ := reader.FieldPos(0)
		rec, err := l.parseRow(fields)
		if err != nil {
			l.logger.Warn("skipping malformed ledger row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if _, dup := l.byID[rec.Identifier]; dup {
			l.logger.Warn("duplicate identifier in ledger, keeping first row",
				zap.Int("line", line), zap.String("identifier", rec.Identifier.String()))
			continue
		}
		if owner, dup := l.bySeq[rec.Slot.Sequence]; dup {
			l.logger.Warn("sequence number recorded twice, keeping first row",
				zap.Int("line", line),
				zap.Int("sequence", rec.Slot.Sequence),
				zap.String("first", owner.String()),
				zap.String("second", rec.Identifier.String()),
				zap.Error(bid.ErrInvariantViolation))
			continue
		}
		l.index(rec)
	}
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.TrimSpace(strings.TrimPrefix(fields[0], "\ufeff")) == Header[0]
}

func (l *Ledger) parseRow(fields []string) (bid.CompletionRecord, error) {
	if len(fields) != legacyColumns && len(fields) != len(Header) {
		return bid.CompletionRecord{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(fields))
	}
	seq, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || seq <= 0 {
		return bid.CompletionRecord{}, fmt.Errorf("invalid sequence number %q", fields[0])
	}
	id := bid.Identifier(strings.TrimSpace(fields[1]))
	if !id.Valid() {
		return bid.CompletionRecord{}, fmt.Errorf("empty identifier")
	}
	completedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[7]))
	if err != nil {
		return bid.CompletionRecord{}, fmt.Errorf("invalid completed_at %q: %w", fields[7], err)
	}

	folder := ""
	if len(fields) == len(Header) {
		folder = strings.TrimSpace(fields[8])
	}
	if folder == "" {
		folder = naming.FolderName(seq, fields[2], l.cfg.MaxNameLength)
	}

	return bid.CompletionRecord{
		Identifier:  id,
		Slot:        l.slot(seq, folder),
		Name:        bid.NormalizeText(fields[2]),
		Date:        bid.NormalizeText(fields[3]),
		Location:    bid.NormalizeText(fields[4]),
		Client:      bid.NormalizeText(fields[5]),
		Phone:       bid.NormalizePhone(fields[6]),
		CompletedAt: completedAt.UTC(),
	}, nil
}

func (l *Ledger) slot(seq int, folder string) bid.StorageSlot {
	return bid.StorageSlot{
		Sequence:   seq,
		FolderName: folder,
		Path:       filepath.Join(l.cfg.StoreDir, folder),
	}
}

func (l *Ledger) index(rec bid.CompletionRecord) {
	l.byID[rec.Identifier] = rec
	l.bySeq[rec.Slot.Sequence] = rec.Identifier
	l.order = append(l.order, rec.Identifier)
	if rec.Slot.Sequence > l.maxSeq {
		l.maxSeq = rec.Slot.Sequence
	}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.cfg.Path
}

// Contains reports whether id has a completion record.
func (l *Ledger) Contains(id bid.Identifier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[id]
	return ok
}

// SlotFor returns the slot recorded for id.
func (l *Ledger) SlotFor(id bid.Identifier) (bid.StorageSlot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[id]
	return rec.Slot, ok
}

// Lookup returns the full record for id.
func (l *Ledger) Lookup(id bid.Identifier) (bid.CompletionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[id]
	return rec, ok
}

// MaxAllocatedSequence returns the highest recorded sequence number, or 0.
func (l *Ledger) MaxAllocatedSequence() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSeq
}

// Len returns the number of valid records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Records returns every record in file order.
func (l *Ledger) Records() []bid.CompletionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bid.CompletionRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// Append durably writes rec. The row is flushed and synced before the
// in-memory index changes, so a returned nil means the record survives a
// crash.
func (l *Ledger) Append(rec bid.CompletionRecord) error {
	if !rec.Identifier.Valid() {
		return fmt.Errorf("append: empty identifier")
	}
	if rec.Slot.Sequence <= 0 || rec.Slot.FolderName == "" {
		return fmt.Errorf("append %s: slot not allocated", rec.Identifier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[rec.Identifier]; ok {
		return fmt.Errorf("append %s: %w", rec.Identifier, bid.ErrAlreadyRecorded)
	}
	if owner, ok := l.bySeq[rec.Slot.Sequence]; ok {
		return fmt.Errorf("append %s: sequence %d belongs to %s: %w",
			rec.Identifier, rec.Slot.Sequence, owner, bid.ErrInvariantViolation)
	}

	rec.CompletedAt = rec.CompletedAt.UTC()
	if err := l.write(rec); err != nil {
		return bid.Storage("append ledger", l.cfg.Path, err)
	}
	rec.Slot = l.slot(rec.Slot.Sequence, rec.Slot.FolderName)
	l.index(rec)
	return nil
}

func (l *Ledger) write(rec bid.CompletionRecord) error {
	if err := os.MkdirAll(filepath.Dir(l.cfg.Path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	empty, needsNewline, err := l.tail()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if needsNewline {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if empty {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	}
	if err := w.Write(encode(rec)); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	// #nosec G304 -- ledger path comes from operator configuration.
	f, err := os.OpenFile(l.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if empty {
		return atomicfile.SyncDir(filepath.Dir(l.cfg.Path))
	}
	return nil
}

// tail reports whether the ledger file is missing or empty, and whether a hand
// edit left it without a final newline.
func (l *Ledger) tail() (empty, needsNewline bool, err error) {
	// #nosec G304 -- ledger path comes from operator configuration.
	f, err := os.Open(l.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return true, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("inspect ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, false, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return true, false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, false, fmt.Errorf("read ledger tail: %w", err)
	}
	return false, last[0] != '\n', nil
}

func encode(rec bid.CompletionRecord) []string {
	return []string{
		strconv.Itoa(rec.Slot.Sequence),
		rec.Identifier.String(),
		rec.Name,
		rec.Date,
		rec.Location,
		rec.Client,
		rec.Phone,
		rec.CompletedAt.Format(time.RFC3339),
		rec.Slot.FolderName,
	}
}
