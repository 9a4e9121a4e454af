package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/ledger"
	"github.com/JakeFAU/bidboard-harvester/internal/storage"
)

type fixture struct {
	dir    string
	cfg    storage.Config
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir: dir,
		cfg: storage.Config{
			StoreDir:    filepath.Join(dir, "projects"),
			JournalPath: filepath.Join(dir, "slots.json"),
		},
	}
	f.reopenLedger(t)
	return f
}

func (f *fixture) reopenLedger(t *testing.T) {
	t.Helper()
	l, err := ledger.Open(ledger.Config{
		Path:     filepath.Join(f.dir, "ledger.csv"),
		StoreDir: f.cfg.StoreDir,
	}, zap.NewNop())
	require.NoError(t, err)
	f.ledger = l
}

func (f *fixture) allocator(t *testing.T) *storage.Allocator {
	t.Helper()
	a, err := storage.NewAllocator(f.cfg, f.ledger, zap.NewNop())
	require.NoError(t, err)
	return a
}

func (f *fixture) complete(t *testing.T, id bid.Identifier, slot bid.StorageSlot) {
	t.Helper()
	require.NoError(t, f.ledger.Append(bid.NewCompletionRecord(id, slot, bid.Metadata{Name: "x"},
		time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))))
}

func TestAllocateFirstSlotIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.allocator(t)

	slot, err := a.Allocate("P100", "Fowler Kia Windsor")
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Sequence)
	assert.Equal(t, "1-Fowler_Kia_Windsor", slot.FolderName)
	assert.DirExists(t, slot.Path)

	again, err := a.Allocate("P100", "Renamed Upstream")
	require.NoError(t, err)
	assert.Equal(t, slot, again)
}

func TestAllocateContinuesAfterLedgerMaximum(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.complete(t, "P100", bid.StorageSlot{Sequence: 1, FolderName: "1-A"})
	f.complete(t, "P101", bid.StorageSlot{Sequence: 2, FolderName: "2-B"})

	a := f.allocator(t)
	slot, err := a.Allocate("P102", "C")
	require.NoError(t, err)
	assert.Equal(t, 3, slot.Sequence)
	assert.Equal(t, "3-C", slot.FolderName)
	assert.Equal(t, 4, a.NextSequence())
}

func TestAllocateReturnsLedgerSlotWithoutCreatingDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.complete(t, "P100", bid.StorageSlot{Sequence: 7, FolderName: "7-Old"})

	a := f.allocator(t)
	slot, err := a.Allocate("P100", "New Name")
	require.NoError(t, err)
	assert.Equal(t, 7, slot.Sequence)
	assert.Equal(t, "7-Old", slot.FolderName)
	assert.NoDirExists(t, slot.Path)
}

func TestAllocateResumesReservationAfterRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.allocator(t).Allocate("P100", "Fowler Kia")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(first.Path))

	// A new process: the ledger never saw P100, the journal did.
	f.reopenLedger(t)
	a := f.allocator(t)

	resumed, err := a.Allocate("P100", "Fowler Kia")
	require.NoError(t, err)
	assert.Equal(t, first, resumed)
	assert.DirExists(t, resumed.Path)

	other, err := a.Allocate("P101", "Other")
	require.NoError(t, err)
	assert.Equal(t, 2, other.Sequence)
}

func TestAbandonedNumbersAreNotReused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.allocator(t)
	s1, err := a.Allocate("P100", "A")
	require.NoError(t, err)
	s2, err := a.Allocate("P101", "B")
	require.NoError(t, err)
	f.complete(t, "P100", s1)

	pruned, err := a.Prune(f.ledger)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, a.Outstanding())

	// P101 is abandoned: its number stays taken across restarts.
	f.reopenLedger(t)
	restarted := f.allocator(t)
	s3, err := restarted.Allocate("P102", "C")
	require.NoError(t, err)
	assert.Equal(t, s2.Sequence+1, s3.Sequence)
}

func TestAllocateNeverHandsOutDuplicateNumbers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.allocator(t)
	seen := make(map[int]bid.Identifier)
	for i, name := range []string{"Same", "Same", "Same", "Other", "Same"} {
		id := bid.Identifier(string(rune('A' + i)))
		slot, err := a.Allocate(id, name)
		require.NoError(t, err)
		owner, dup := seen[slot.Sequence]
		require.False(t, dup, "sequence %d handed to %s and %s", slot.Sequence, owner, id)
		seen[slot.Sequence] = id
	}
	assert.Len(t, seen, 5)
}

func TestAllocateIgnoresDirectoryListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.StoreDir, "41-Stray"), 0o750))

	slot, err := f.allocator(t).Allocate("P100", "Fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Sequence)
}

func TestAllocateRejectsFileAtSlotPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.StoreDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.StoreDir, "1-Blocked"), []byte("x"), 0o600))

	_, err := f.allocator(t).Allocate("P100", "Blocked")
	require.Error(t, err)
	assert.True(t, bid.IsStorage(err))
}

func TestCorruptJournalFallsBackToLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.complete(t, "P100", bid.StorageSlot{Sequence: 4, FolderName: "4-A"})
	require.NoError(t, os.WriteFile(f.cfg.JournalPath, []byte("]]"), 0o600))

	slot, err := f.allocator(t).Allocate("P200", "B")
	require.NoError(t, err)
	assert.Equal(t, 5, slot.Sequence)
}

func TestUnreadableJournalFallsBackToLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.complete(t, "P100", bid.StorageSlot{Sequence: 4, FolderName: "4-A"})
	require.NoError(t, os.MkdirAll(f.cfg.JournalPath, 0o750))

	a, err := storage.NewAllocator(f.cfg, f.ledger, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5, a.NextSequence())
	assert.Zero(t, a.Outstanding())
}
