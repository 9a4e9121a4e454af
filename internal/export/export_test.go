package export_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/export"
)

type fakeExporter struct {
	name   string
	err    error
	calls  []bid.Identifier
	closed bool
}

func (f *fakeExporter) Name() string { return f.name }

func (f *fakeExporter) Export(_ context.Context, c bid.Completion) error {
	f.calls = append(f.calls, c.Record.Identifier)
	return f.err
}

func (f *fakeExporter) Close() error {
	f.closed = true
	return nil
}

func sampleCompletion() bid.Completion {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	slot := bid.StorageSlot{Sequence: 7, FolderName: "7-Clinic", Path: "/store/7-Clinic"}
	meta := bid.Metadata{Name: "Clinic", Email: "a@b.test", Date: "3/9/2026"}
	return bid.Completion{
		Record: bid.NewCompletionRecord("P7", slot, meta, now),
		Entry: bid.PendingEntry{
			Identifier:   "P7",
			DiscoveredAt: now.Add(-time.Hour),
			Hints:        map[string]string{bid.HintURL: "https://portal.test/opportunities/P7"},
		},
		Metadata:      meta,
		ArchivePath:   "/store/7-Clinic/plans.zip",
		ArchiveSHA256: "abc",
	}
}

func TestFanoutCallsEveryExporter(t *testing.T) {
	t.Parallel()

	failing := &fakeExporter{name: "first", err: errors.New("down")}
	ok := &fakeExporter{name: "second"}
	f := export.NewFanout(zap.NewNop(), failing, nil, ok)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"first", "second"}, f.Names())

	err := f.Export(context.Background(), sampleCompletion())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: down")
	assert.Equal(t, []bid.Identifier{"P7"}, failing.calls)
	assert.Equal(t, []bid.Identifier{"P7"}, ok.calls)

	require.NoError(t, f.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestEmptyFanout(t *testing.T) {
	t.Parallel()

	f := export.NewFanout(nil)
	require.NoError(t, f.Export(context.Background(), sampleCompletion()))
	require.NoError(t, f.Close())
}

func TestNewDocument(t *testing.T) {
	t.Parallel()

	doc := export.NewDocument(sampleCompletion())
	assert.Equal(t, "P7", doc.ID)
	assert.Equal(t, 7, doc.Sequence)
	assert.Equal(t, "7-Clinic", doc.Folder)
	assert.Equal(t, "2026-03-09", doc.DueDate)
	assert.Equal(t, "a@b.test", doc.Email)
	assert.Equal(t, bid.Sentinel, doc.Size)
	assert.Equal(t, "plans.zip", doc.ArchiveName)
	assert.Equal(t, "https://portal.test/opportunities/P7", doc.SourceURL)
}
