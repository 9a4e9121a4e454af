package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Path:     filepath.Join(dir, "ledger.csv"),
		StoreDir: filepath.Join(dir, "projects"),
	}
}

func record(id string, seq int, name string) bid.CompletionRecord {
	return bid.CompletionRecord{
		Identifier:  bid.Identifier(id),
		Slot:        bid.StorageSlot{Sequence: seq, FolderName: fmt.Sprintf("%d-%s", seq, strings.ReplaceAll(name, " ", "_"))},
		Name:        name,
		Date:        "2025-10-02",
		Location:    "Denver, CO",
		Client:      "Acme GC",
		Phone:       bid.Sentinel,
		CompletedAt: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	l, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.MaxAllocatedSequence())
	assert.False(t, l.Contains("P100"))
}

func TestAppendIsDurableAcrossReopen(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	l, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, l.Append(record("P100", 1, "Fowler Kia")))
	require.NoError(t, l.Append(record("P101", 2, "Big Box")))

	reopened, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, 2, reopened.MaxAllocatedSequence())

	slot, ok := reopened.SlotFor("P100")
	require.True(t, ok)
	assert.Equal(t, 1, slot.Sequence)
	assert.Equal(t, "1-Fowler_Kia", slot.FolderName)
	assert.Equal(t, filepath.Join(cfg.StoreDir, "1-Fowler_Kia"), slot.Path)

	rec, ok := reopened.Lookup("P101")
	require.True(t, ok)
	assert.Equal(t, "Big Box", rec.Name)
	assert.Equal(t, bid.Sentinel, rec.Phone)
	assert.True(t, rec.CompletedAt.Equal(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Header, ","), lines[0])
}

func TestAppendRejectsDuplicates(t *testing.T) {
	t.Parallel()

	l, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l.Append(record("P100", 1, "Fowler Kia")))

	err = l.Append(record("P100", 2, "Fowler Kia"))
	require.ErrorIs(t, err, bid.ErrAlreadyRecorded)

	err = l.Append(record("P200", 1, "Other"))
	require.ErrorIs(t, err, bid.ErrInvariantViolation)

	assert.Equal(t, 1, l.Len())
}

func TestAppendValidatesRecord(t *testing.T) {
	t.Parallel()

	l, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	require.Error(t, l.Append(bid.CompletionRecord{}))
	require.Error(t, l.Append(bid.CompletionRecord{Identifier: "P1"}))
	assert.Equal(t, 0, l.Len())
}

func TestOpenSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	content := strings.Join([]string{
		strings.Join(Header, ","),
		"1,P100,Fowler Kia,2025-10-02,Denver,Acme,N/S,2025-09-01T12:00:00Z,1-Fowler_Kia",
		"garbage",
		"x,P101,Bad Seq,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z,x-Bad",
		"3,,No Id,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z,3-No_Id",
		"4,P104,Bad Time,N/S,N/S,N/S,N/S,yesterday,4-Bad_Time",
		"5,P100,Duplicate Id,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z,5-Duplicate_Id",
		"1,P106,Duplicate Seq,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z,1-Duplicate_Seq",
		"7,P107,Legacy Row,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(cfg.Path, []byte(content), 0o600))

	l, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains("P100"))
	assert.True(t, l.Contains("P107"))
	assert.False(t, l.Contains("P101"))
	assert.False(t, l.Contains("P106"))
	assert.Equal(t, 7, l.MaxAllocatedSequence())

	first, _ := l.Lookup("P100")
	assert.Equal(t, "Fowler Kia", first.Name)

	legacy, ok := l.SlotFor("P107")
	require.True(t, ok)
	assert.Equal(t, "7-Legacy_Row", legacy.FolderName)
}

func TestOpenFillsBlankHandEditedFields(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	content := strings.Join(Header, ",") + "\n" +
		"1,P100,  Fowler   Kia ,,  ,,(303) 555-1212,2025-09-01T12:00:00Z,1-Fowler_Kia\n" +
		"2,P101,Big Box,2025-10-02,Denver,Acme,,2025-09-01T12:00:00Z,2-Big_Box\n"
	require.NoError(t, os.WriteFile(cfg.Path, []byte(content), 0o600))

	l, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	first, ok := l.Lookup("P100")
	require.True(t, ok)
	assert.Equal(t, "Fowler Kia", first.Name)
	assert.Equal(t, bid.Sentinel, first.Date)
	assert.Equal(t, bid.Sentinel, first.Location)
	assert.Equal(t, bid.Sentinel, first.Client)
	assert.Equal(t, "+1 303-555-1212", first.Phone)

	second, ok := l.Lookup("P101")
	require.True(t, ok)
	assert.Equal(t, "2025-10-02", second.Date)
	assert.Equal(t, bid.Sentinel, second.Phone)
}

func TestAppendAfterHandEditWithoutTrailingNewline(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	content := strings.Join(Header, ",") + "\n" +
		"1,P100,Fowler Kia,N/S,N/S,N/S,N/S,2025-09-01T12:00:00Z,1-Fowler_Kia"
	require.NoError(t, os.WriteFile(cfg.Path, []byte(content), 0o600))

	l, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l.Append(record("P101", 2, "Big Box")))

	reopened, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, []bid.Identifier{"P100", "P101"}, identifiers(reopened.Records()))
}

func TestUnreadableLedgerIsTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Path, 0o750))

	l, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func identifiers(recs []bid.CompletionRecord) []bid.Identifier {
	out := make([]bid.Identifier, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Identifier)
	}
	return out
}
