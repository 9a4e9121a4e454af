package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/naming"
)

// Ledger is the part of the completion ledger the allocator reads.
type Ledger interface {
	SlotFor(id bid.Identifier) (bid.StorageSlot, bool)
	MaxAllocatedSequence() int
}

// Config captures where slots and the journal live.
type Config struct {
	// StoreDir is the parent directory of every slot folder.
	StoreDir string `mapstructure:"store_dir"`
	// JournalPath is the allocation journal file.
	JournalPath string `mapstructure:"journal_file"`
	// MaxNameLength bounds the sanitized name part of a folder.
	MaxNameLength int `mapstructure:"max_name_length"`
}

// Allocator hands out storage slots. Allocation is idempotent per identifier.
type Allocator struct {
	mu      sync.Mutex
	cfg     Config
	ledger  Ledger
	journal *Journal
	logger  *zap.Logger
}

// NewAllocator opens the journal and ensures the store directory exists.
func NewAllocator(cfg Config, ledger Ledger, logger *zap.Logger) (*Allocator, error) {
	if strings.TrimSpace(cfg.StoreDir) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("allocator")
	if err := os.MkdirAll(cfg.StoreDir, 0o750); err != nil {
		return nil, bid.Storage("create store dir", cfg.StoreDir, err)
	}
	journal, err := OpenJournal(cfg.JournalPath, logger)
	if err != nil {
		return nil, err
	}
	return &Allocator{cfg: cfg, ledger: ledger, journal: journal, logger: logger}, nil
}

// Allocate returns the slot for id, creating its folder when needed.
//
// A slot already in the ledger is returned unchanged and nothing is created.
// A reservation left by an interrupted run is resumed. Otherwise the next
// number after everything the ledger and journal have seen is reserved, and
// only then is the folder created.
func (a *Allocator) Allocate(id bid.Identifier, projectName string) (bid.StorageSlot, error) {
	if !id.Valid() {
		return bid.StorageSlot{}, fmt.Errorf("allocate: empty identifier")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if slot, ok := a.ledger.SlotFor(id); ok {
		return slot, nil
	}

	if seq, folder, ok := a.journal.Lookup(id); ok {
		slot := a.slot(seq, folder)
		a.logger.Info("resuming reserved slot",
			zap.String("identifier", id.String()), zap.String("folder", folder))
		return slot, ensureDir(slot.Path)
	}

	next := 1 + max(a.ledger.MaxAllocatedSequence(), a.journal.MaxSequence(), 0)
	slot := a.slot(next, naming.FolderName(next, projectName, a.cfg.MaxNameLength))
	if err := a.journal.Reserve(id, slot.Sequence, slot.FolderName); err != nil {
		return bid.StorageSlot{}, err
	}
	if err := ensureDir(slot.Path); err != nil {
		return bid.StorageSlot{}, err
	}
	a.logger.Info("slot allocated",
		zap.String("identifier", id.String()),
		zap.Int("sequence", slot.Sequence),
		zap.String("folder", slot.FolderName))
	return slot, nil
}

// Prune forgets reservations that the ledger now records.
func (a *Allocator) Prune(done bid.Completed) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.journal.Prune(done)
}

// Outstanding returns the number of reservations not yet in the ledger.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.journal.Len()
}

// NextSequence reports the number the next new project would receive.
func (a *Allocator) NextSequence() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return 1 + max(a.ledger.MaxAllocatedSequence(), a.journal.MaxSequence(), 0)
}

func (a *Allocator) slot(seq int, folder string) bid.StorageSlot {
	return bid.StorageSlot{
		Sequence:   seq,
		FolderName: folder,
		Path:       filepath.Join(a.cfg.StoreDir, folder),
	}
}

// ensureDir creates path or accepts an existing directory there.
func ensureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return bid.Storage("create slot", path, fmt.Errorf("path exists and is not a directory"))
	case !errors.Is(err, os.ErrNotExist):
		return bid.Storage("stat slot", path, err)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return bid.Storage("create slot", path, err)
	}
	return nil
}
